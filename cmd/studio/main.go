package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/andrew/avatar-studio/internal/cache"
	"github.com/andrew/avatar-studio/internal/client"
	"github.com/andrew/avatar-studio/internal/config"
	"github.com/andrew/avatar-studio/internal/fingerprint"
	"github.com/andrew/avatar-studio/internal/guest"
	"github.com/andrew/avatar-studio/internal/ledger"
	"github.com/andrew/avatar-studio/internal/localstore"
	"github.com/andrew/avatar-studio/internal/logger"
)

// app is everything a studio command needs
type app struct {
	client *client.Client
	guest  *guest.Manager
	ledger *ledger.Ledger
	log    *slog.Logger
	out    io.Writer
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"guest":     {"guest [status|start|clear]", runGuest},
	"avatars":   {"avatars", runAvatars},
	"voices":    {"voices", runVoices},
	"video":     {"video create|status ...", runVideo},
	"clip":      {"clip create|list|status ...", runClip},
	"image":     {"image <file>", runImage},
	"images":    {"images <query> [-page n] [-per-page n] [-orientation o]", runImages},
	"avatar":    {"avatar upload|list|delete ...", runAvatar},
	"agent":     {"agent create|list ...", runAgent},
	"stream":    {"stream create|list ...", runStream},
	"templates": {"templates [-search s] [-category c]", runTemplates},
	"videos":    {"videos [-search s] [-category c] | videos view <id>", runVideos},
	"usage":     {"usage [stats|hourly|history|estimate <activity>] [-server]", runUsage},
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: studio <command> [args]")
	fmt.Fprintln(os.Stderr)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	a, closeApp, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeApp()

	if err := cmd.run(ctx, a, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeApp()
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg *config.ClientConfig) (*app, func(), error) {
	log := logger.NewWithWriter(os.Stderr, cfg.LogLevel, "text")

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	kv, err := localstore.OpenKV(filepath.Join(cfg.StateDir, "session.json"))
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {}
	var store ledger.Store
	switch cfg.Ledger {
	case "redis":
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() { rdb.Close() }
		store = ledger.NewRedisStore(rdb, "avatar-studio")
	default:
		fs, err := ledger.NewFileStore(cfg.StateDir)
		if err != nil {
			return nil, nil, err
		}
		store = fs
	}

	l, err := ledger.New(ctx, store, ledger.WithLogger(log))
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	attrs := fingerprint.Local()
	c := client.New(cfg.ServerURL, attrs)
	m := guest.NewManager(kv, c,
		guest.WithLedger(l),
		guest.WithLogger(log),
		guest.WithAttributes(func() fingerprint.Attributes { return attrs }),
	)

	return &app{client: c, guest: m, ledger: l, log: log, out: os.Stdout}, closeFn, nil
}

// errNoTokens is returned when a billable command cannot be paid for
var errNoTokens = errors.New("not enough tokens for this action")

// session resolves the stored guest session or creates one
func (a *app) session(ctx context.Context) (*guest.Session, error) {
	outcome := a.guest.StartGuestSession(ctx)
	if outcome.Created && outcome.Notice != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", outcome.Notice.Title, outcome.Notice.Description)
	}
	if !outcome.OK {
		if outcome.Notice != nil {
			return nil, fmt.Errorf("%s: %s", outcome.Notice.Title, outcome.Notice.Description)
		}
		return nil, errors.New("no guest session")
	}
	return outcome.Session, nil
}

// debit charges the active session for activity before it is performed
func (a *app) debit(ctx context.Context, activity string) error {
	if _, err := a.session(ctx); err != nil {
		return err
	}
	tokens := ledger.DebitTokens[activity]
	if !a.guest.ConsumeTokens(ctx, tokens, activity) {
		s := a.guest.Session()
		if s != nil {
			return fmt.Errorf("%w: %s costs %d, %d left", errNoTokens, activity, tokens, s.RemainingTokens)
		}
		return errNoTokens
	}
	return nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
