package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/andrew/avatar-studio/internal/client"
	"github.com/andrew/avatar-studio/internal/ledger"
	"github.com/andrew/avatar-studio/internal/providers/did"
	"github.com/andrew/avatar-studio/internal/providers/unsplash"
)

// subcommand splits "create -x y" into its verb and remaining args
func subcommand(args []string, def string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return def, args
	}
	return args[0], args[1:]
}

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func required(values map[string]string) error {
	var missing []string
	for name, v := range values {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	return nil
}

func runGuest(ctx context.Context, a *app, args []string) error {
	verb, args := subcommand(args, "status")
	switch verb {
	case "status":
		if !a.guest.CheckExistingSession(ctx) {
			return a.print(map[string]string{"state": a.guest.State().String()})
		}
		return a.print(a.guest.Session())
	case "start":
		outcome := a.guest.StartGuestSession(ctx)
		if err := a.print(outcome); err != nil {
			return err
		}
		if !outcome.OK {
			return errors.New("guest session could not be started")
		}
		return nil
	case "clear":
		fs := newFlags("guest clear")
		yes := fs.Bool("y", false, "Do not ask for confirmation")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if !*yes {
			confirm := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title("Forget the guest session on this device?").
					Description("The server keeps the session; the device cannot create another one.").
					Affirmative("Yes, forget it").
					Negative("No").
					Value(&confirm),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirm {
				fmt.Fprintln(os.Stderr, "Cancelled.")
				return nil
			}
		}
		a.guest.ClearSession()
		return a.print(map[string]string{"state": a.guest.State().String()})
	default:
		return fmt.Errorf("unknown guest command %q", verb)
	}
}

func runAvatars(ctx context.Context, a *app, args []string) error {
	if _, err := a.session(ctx); err != nil {
		return err
	}
	avatars, err := a.client.Avatars(ctx)
	if err != nil {
		return err
	}
	return a.print(avatars)
}

func runVoices(ctx context.Context, a *app, args []string) error {
	if _, err := a.session(ctx); err != nil {
		return err
	}
	voices, err := a.client.Voices(ctx)
	if err != nil {
		return err
	}
	return a.print(voices)
}

// voiceFlags registers the shared script voice flags
func voiceFlags(fs *flag.FlagSet) (*string, *string) {
	voice := fs.String("voice", "en-US-JennyNeural", "Voice id")
	provider := fs.String("voice-provider", "microsoft", "Voice provider: microsoft or amazon")
	return voice, provider
}

func runVideo(ctx context.Context, a *app, args []string) error {
	verb, args := subcommand(args, "")
	switch verb {
	case "create":
		fs := newFlags("video create")
		source := fs.String("avatar-url", "", "Image URL of the presenter")
		script := fs.String("script", "", "Text the avatar speaks")
		voice, provider := voiceFlags(fs)
		subtitles := fs.Bool("subtitles", false, "Burn in subtitles")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"avatar-url": *source, "script": *script}); err != nil {
			return err
		}

		if err := a.debit(ctx, ledger.ActivityVideoGeneration); err != nil {
			return err
		}
		talk, err := a.client.CreateTalk(ctx, did.TalkRequest{
			SourceURL: *source,
			Script: did.Script{
				Type:      "text",
				Input:     *script,
				Subtitles: *subtitles,
				Provider:  &did.VoiceProvider{Type: *provider, VoiceID: *voice},
			},
			Config: &did.TalkConfig{Fluent: true},
		})
		if err != nil {
			return err
		}
		return a.print(talk)
	case "status":
		if len(args) != 1 {
			return errors.New("usage: video status <id>")
		}
		if _, err := a.session(ctx); err != nil {
			return err
		}
		talk, err := a.client.Talk(ctx, args[0])
		if err != nil {
			return err
		}
		return a.print(talk)
	default:
		return errors.New("usage: video create|status ...")
	}
}

func runClip(ctx context.Context, a *app, args []string) error {
	verb, args := subcommand(args, "list")
	if _, err := a.session(ctx); err != nil {
		return err
	}

	switch verb {
	case "create":
		fs := newFlags("clip create")
		presenter := fs.String("presenter", "", "Presenter id from `studio avatars`")
		script := fs.String("script", "", "Text the presenter speaks")
		voice, provider := voiceFlags(fs)
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"presenter": *presenter, "script": *script}); err != nil {
			return err
		}

		if err := a.debit(ctx, ledger.ActivityVideoGeneration); err != nil {
			return err
		}
		clip, err := a.client.CreateClip(ctx, did.ClipRequest{
			PresenterID: *presenter,
			Script: did.Script{
				Type:     "text",
				Input:    *script,
				Provider: &did.VoiceProvider{Type: *provider, VoiceID: *voice},
			},
			Config: &did.ClipConfig{ResultFormat: "mp4"},
		})
		if err != nil {
			return err
		}
		return a.print(clip)
	case "list":
		clips, err := a.client.Clips(ctx)
		if err != nil {
			return err
		}
		return a.print(clips)
	case "status":
		if len(args) != 1 {
			return errors.New("usage: clip status <id>")
		}
		clip, err := a.client.Clip(ctx, args[0])
		if err != nil {
			return err
		}
		return a.print(clip)
	default:
		return errors.New("usage: clip create|list|status ...")
	}
}

func runImage(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: image <file>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	if err := a.debit(ctx, ledger.ActivityAvatarImageUpload); err != nil {
		return err
	}
	img, err := a.client.UploadImage(ctx, filepath.Base(args[0]), f)
	if err != nil {
		return err
	}
	return a.print(img)
}

func runImages(ctx context.Context, a *app, args []string) error {
	fs := newFlags("images")
	page := fs.Int("page", 1, "Result page")
	perPage := fs.Int("per-page", 20, "Results per page")
	orientation := fs.String("orientation", "", "landscape, portrait or squarish")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := a.session(ctx); err != nil {
		return err
	}
	result, err := a.client.SearchImages(ctx, unsplash.SearchRequest{
		Query:       strings.Join(fs.Args(), " "),
		Page:        *page,
		PerPage:     *perPage,
		Orientation: *orientation,
	})
	if err != nil {
		return err
	}
	return a.print(result)
}

func runAvatar(ctx context.Context, a *app, args []string) error {
	verb, args := subcommand(args, "list")
	switch verb {
	case "upload":
		fs := newFlags("avatar upload")
		name := fs.String("name", "", "Avatar name")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("usage: avatar upload -name <name> <file>")
		}
		if err := required(map[string]string{"name": *name}); err != nil {
			return err
		}

		path := fs.Arg(0)
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := a.debit(ctx, ledger.ActivityAvatarImageUpload); err != nil {
			return err
		}
		avatar, err := a.client.UploadAvatar(ctx, *name, filepath.Base(path), f)
		if err != nil {
			return err
		}
		return a.print(avatar)
	case "list":
		if _, err := a.session(ctx); err != nil {
			return err
		}
		avatars, err := a.client.AvatarUploads(ctx)
		if err != nil {
			return err
		}
		return a.print(avatars)
	case "delete":
		if len(args) != 1 {
			return errors.New("usage: avatar delete <path>")
		}
		if _, err := a.session(ctx); err != nil {
			return err
		}
		if err := a.client.DeleteAvatarUpload(ctx, args[0]); err != nil {
			return err
		}
		return a.print(map[string]string{"deleted": args[0]})
	default:
		return errors.New("usage: avatar upload|list|delete ...")
	}
}

func runAgent(ctx context.Context, a *app, args []string) error {
	verb, args := subcommand(args, "list")
	switch verb {
	case "create":
		fs := newFlags("agent create")
		name := fs.String("name", "", "Agent name")
		source := fs.String("source-url", "", "Presenter image URL")
		gender := fs.String("gender", "female", "Presenter gender")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"name": *name, "source-url": *source}); err != nil {
			return err
		}

		if err := a.debit(ctx, ledger.ActivityAgentCreation); err != nil {
			return err
		}
		agent, err := a.client.CreateAgent(ctx, did.AgentRequest{Name: *name, SourceURL: *source, Gender: *gender})
		if err != nil {
			return err
		}
		return a.print(agent)
	case "list":
		if _, err := a.session(ctx); err != nil {
			return err
		}
		agents, err := a.client.Agents(ctx)
		if err != nil {
			return err
		}
		return a.print(agents)
	default:
		return errors.New("usage: agent create|list ...")
	}
}

func runStream(ctx context.Context, a *app, args []string) error {
	verb, args := subcommand(args, "list")
	switch verb {
	case "create":
		fs := newFlags("stream create")
		var req client.StreamRequest
		fs.StringVar(&req.Title, "title", "", "Stream title")
		fs.StringVar(&req.Description, "description", "", "Stream description")
		fs.StringVar(&req.AvatarURL, "avatar-url", "", "Avatar image URL")
		fs.StringVar(&req.Type, "type", "live", "live or scheduled")
		fs.BoolVar(&req.Public, "public", false, "List the stream publicly")
		fs.BoolVar(&req.AutoRecord, "auto-record", false, "Record the stream")
		fs.StringVar(&req.Quality, "quality", "1080p", "Stream quality")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := required(map[string]string{"title": req.Title, "description": req.Description, "avatar-url": req.AvatarURL}); err != nil {
			return err
		}

		if err := a.debit(ctx, ledger.ActivityStreamCreation); err != nil {
			return err
		}
		stream, err := a.client.CreateStream(ctx, req)
		if err != nil {
			return err
		}
		return a.print(stream)
	case "list":
		if _, err := a.session(ctx); err != nil {
			return err
		}
		streams, err := a.client.Streams(ctx)
		if err != nil {
			return err
		}
		return a.print(streams)
	default:
		return errors.New("usage: stream create|list ...")
	}
}

func catalogFlags(name string, args []string) (string, string, error) {
	fs := newFlags(name)
	search := fs.String("search", "", "Search text")
	category := fs.String("category", "all", "Category")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	return *search, *category, nil
}

func runTemplates(ctx context.Context, a *app, args []string) error {
	search, category, err := catalogFlags("templates", args)
	if err != nil {
		return err
	}
	if _, err := a.session(ctx); err != nil {
		return err
	}
	templates, err := a.client.Templates(ctx, search, category)
	if err != nil {
		return err
	}
	return a.print(templates)
}

func runVideos(ctx context.Context, a *app, args []string) error {
	if _, err := a.session(ctx); err != nil {
		return err
	}

	if len(args) > 0 && args[0] == "view" {
		if len(args) != 2 {
			return errors.New("usage: videos view <id>")
		}
		count, err := a.client.ViewVideo(ctx, args[1])
		if err != nil {
			return err
		}
		return a.print(map[string]int{"view_count": count})
	}

	search, category, err := catalogFlags("videos", args)
	if err != nil {
		return err
	}
	videos, err := a.client.Videos(ctx, search, category)
	if err != nil {
		return err
	}
	return a.print(videos)
}

func runUsage(ctx context.Context, a *app, args []string) error {
	verb, args := subcommand(args, "stats")
	fs := newFlags("usage " + verb)
	server := fs.Bool("server", false, "Report the server's history instead of the local ledger")
	hours := fs.Int("hours", 24, "Hours for the hourly report")
	limit := fs.Int("limit", 50, "Rows for the history report")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if verb == "estimate" {
		if fs.NArg() != 1 {
			return errors.New("usage: usage estimate <activity>")
		}
		activity := fs.Arg(0)
		if *server {
			if _, err := a.session(ctx); err != nil {
				return err
			}
			est, err := a.client.EstimateActivity(ctx, activity)
			if err != nil {
				return err
			}
			return a.print(est)
		}
		return a.print(client.Estimate{
			Activity: activity,
			Tokens:   ledger.EstimateActivityTokens(activity),
			Cost:     ledger.EstimateActivityCost(activity),
		})
	}

	s, err := a.session(ctx)
	if err != nil {
		return err
	}

	switch verb {
	case "stats":
		if *server {
			stats, err := a.client.UsageStats(ctx)
			if err != nil {
				return err
			}
			return a.print(stats)
		}
		return a.print(a.ledger.UsageStats(s.ID))
	case "hourly":
		if *server {
			buckets, err := a.client.HourlyUsage(ctx, *hours)
			if err != nil {
				return err
			}
			return a.print(buckets)
		}
		return a.print(a.ledger.HourlyUsage(s.ID, *hours))
	case "history":
		if *server {
			usage, err := a.client.Usage(ctx, client.UsageQuery{Limit: *limit})
			if err != nil {
				return err
			}
			return a.print(usage)
		}
		records := a.ledger.Records(s.ID)
		if len(records) > *limit {
			records = records[:*limit]
		}
		return a.print(records)
	default:
		return errors.New("usage: usage [stats|hourly|history|estimate <activity>] [-server]")
	}
}
