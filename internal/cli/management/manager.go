package management

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/andrew/avatar-studio/internal/auth"
	"github.com/andrew/avatar-studio/internal/database"
	"github.com/andrew/avatar-studio/internal/database/models"
	"github.com/andrew/avatar-studio/internal/ledger"
)

// listPageSize is how many sessions the console shows at once
const listPageSize = 50

// Manager is the operator console for guest sessions, devices and admin keys
type Manager struct {
	db     *database.DB
	ledger *ledger.Ledger
	out    io.Writer
}

// NewManager creates the operator console. Usage stats are read through a
// ledger over the server's usage history.
func NewManager(ctx context.Context, db *database.DB) (*Manager, error) {
	l, err := ledger.New(ctx, db.UsageStore())
	if err != nil {
		return nil, fmt.Errorf("failed to load usage history: %w", err)
	}
	return &Manager{db: db, ledger: l, out: os.Stdout}, nil
}

// SetOutput redirects console and JSON output
func (m *Manager) SetOutput(w io.Writer) {
	m.out = w
}

// Run starts the interactive TUI
func (m *Manager) Run(ctx context.Context) error {
	for {
		var action string
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Avatar Studio - Operator Console").
					Options(
						huh.NewOption("List guest sessions", "sessions"),
						huh.NewOption("Session usage stats", "usage"),
						huh.NewOption("Grant tokens", "grant"),
						huh.NewOption("Block device", "block"),
						huh.NewOption("Unblock device", "unblock"),
						huh.NewOption("Add admin key", "add-admin"),
						huh.NewOption("List admin keys", "list-admins"),
						huh.NewOption("Delete admin key", "delete-admin"),
						huh.NewOption("Exit", "exit"),
					).
					Value(&action),
			),
		)

		if err := form.Run(); err != nil {
			if err == huh.ErrUserAborted {
				fmt.Fprintln(m.out, "\nGoodbye!")
				return nil
			}
			return err
		}

		var err error
		switch action {
		case "sessions":
			err = m.listSessionsInteractive(ctx)
		case "usage":
			err = m.usageInteractive(ctx)
		case "grant":
			err = m.grantInteractive(ctx)
		case "block":
			err = m.blockInteractive(ctx)
		case "unblock":
			err = m.unblockInteractive(ctx)
		case "add-admin":
			err = m.addAdminInteractive(ctx)
		case "list-admins":
			err = m.listAdminsInteractive(ctx)
		case "delete-admin":
			err = m.deleteAdminInteractive(ctx)
		case "exit":
			fmt.Fprintln(m.out, "\nGoodbye!")
			return nil
		}
		if err != nil {
			fmt.Fprintf(m.out, "Error: %v\n", err)
		}
	}
}

func notEmpty(label string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", label)
		}
		return nil
	}
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fmt.Errorf("enter a positive number")
	}
	return nil
}

// selectSession asks the operator to pick one of the newest sessions
func (m *Manager) selectSession(ctx context.Context, title string) (*models.AnonymousSession, error) {
	sessions, err := m.db.ListAnonymousSessions(ctx, listPageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(m.out, "\nNo guest sessions found.")
		return nil, nil
	}

	options := []huh.Option[string]{huh.NewOption("Cancel", "")}
	for _, s := range sessions {
		label := fmt.Sprintf("%s  %d/%d tokens  %s", s.ID, s.RemainingTokens(), s.TotalTokens, s.CreatedAt.Format("2006-01-02 15:04"))
		options = append(options, huh.NewOption(label, s.ID))
	}

	var selected string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(title).
				Options(options...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		return nil, err
	}

	for i := range sessions {
		if sessions[i].ID == selected {
			return &sessions[i], nil
		}
	}
	fmt.Fprintln(m.out, "\nCancelled.")
	return nil, nil
}

func (m *Manager) listSessionsInteractive(ctx context.Context) error {
	sessions, err := m.db.ListAnonymousSessions(ctx, listPageSize, 0)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(m.out, "\nNo guest sessions found.")
		return nil
	}

	fmt.Fprintln(m.out, "\n=== Guest Sessions ===")
	for _, s := range sessions {
		fmt.Fprintf(m.out, "\n%s | %s\n", s.ID, s.SessionID)
		fmt.Fprintf(m.out, "   Device:        %s (%s, %s)\n", s.FingerprintHash, s.Platform, s.Timezone)
		fmt.Fprintf(m.out, "   Tokens:        %d used of %d, %d left\n", s.UsedTokens, s.TotalTokens, s.RemainingTokens())
		fmt.Fprintf(m.out, "   Created:       %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(m.out, "   Last activity: %s\n", s.LastActivityAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(m.out)
	return nil
}

func (m *Manager) usageInteractive(ctx context.Context) error {
	s, err := m.selectSession(ctx, "Select Session")
	if err != nil || s == nil {
		return err
	}
	if err := m.ledger.Reload(ctx); err != nil {
		return err
	}

	stats := m.ledger.UsageStats(s.ID)
	fmt.Fprintf(m.out, "\n=== Usage for %s ===\n", s.ID)
	fmt.Fprintf(m.out, "   Total:     %d tokens (€%.2f)\n", stats.TotalTokens, stats.TotalCost)
	fmt.Fprintf(m.out, "   Today:     %d tokens (€%.2f)\n", stats.TodayTokens, stats.TodayCost)
	fmt.Fprintf(m.out, "   Projected: %d tokens/month (€%.2f)\n\n", stats.EstimatedMonthlyTokens, stats.EstimatedMonthlyCost)
	return nil
}

func (m *Manager) grantInteractive(ctx context.Context) error {
	s, err := m.selectSession(ctx, "Grant Tokens To")
	if err != nil || s == nil {
		return err
	}

	amount := "500"
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Tokens").
				Placeholder("500").
				Value(&amount).
				Validate(positiveInt),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	tokens, _ := strconv.Atoi(strings.TrimSpace(amount))
	balance, err := m.db.GrantTokens(ctx, s.ID, tokens)
	if err != nil {
		return fmt.Errorf("failed to grant tokens: %w", err)
	}

	fmt.Fprintf(m.out, "\n✅ Granted %d tokens. Balance: %d of %d left.\n\n", tokens, balance.RemainingTokens, balance.TotalTokens)
	return nil
}

func (m *Manager) blockInteractive(ctx context.Context) error {
	var hash, reason string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Device Fingerprint").
				Value(&hash).
				Validate(notEmpty("fingerprint")),
			huh.NewInput().
				Title("Reason").
				Placeholder("abuse").
				Value(&reason),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	policy, err := m.block(ctx, strings.TrimSpace(hash), reason)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "\n✅ Device %s blocked (%d sessions).\n\n", policy.FingerprintHash, policy.SessionCount)
	return nil
}

func (m *Manager) unblockInteractive(ctx context.Context) error {
	var hash string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Device Fingerprint").
				Value(&hash).
				Validate(notEmpty("fingerprint")),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	policy, err := m.unblock(ctx, strings.TrimSpace(hash))
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "\n✅ Device %s unblocked; it may open one more session.\n\n", policy.FingerprintHash)
	return nil
}

func (m *Manager) block(ctx context.Context, hash, reason string) (*models.DevicePolicy, error) {
	if err := m.db.BlockDevice(ctx, hash, reason); err != nil {
		return nil, err
	}
	return m.db.GetDevicePolicy(ctx, hash)
}

func (m *Manager) unblock(ctx context.Context, hash string) (*models.DevicePolicy, error) {
	if err := m.db.UnblockDevice(ctx, hash); err != nil {
		return nil, err
	}
	return m.db.GetDevicePolicy(ctx, hash)
}

// createAdminKey stores a new key and returns its plaintext
func (m *Manager) createAdminKey(ctx context.Context, name string) (*models.AdminKey, string, error) {
	key, err := auth.GenerateAdminKey()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate admin key: %w", err)
	}

	admin := &models.AdminKey{Name: name, KeyHash: auth.HashAdminKey(key)}
	if err := m.db.CreateAdminKey(ctx, admin); err != nil {
		return nil, "", err
	}
	return admin, key, nil
}

func (m *Manager) addAdminInteractive(ctx context.Context) error {
	var name string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Key Name").
				Placeholder("ops-laptop").
				Value(&name).
				Validate(notEmpty("name")),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	admin, key, err := m.createAdminKey(ctx, strings.TrimSpace(name))
	if err != nil {
		return err
	}

	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "✅ Admin key created successfully!")
	fmt.Fprintln(m.out)
	fmt.Fprintf(m.out, "   Key ID:  %d\n", admin.ID)
	fmt.Fprintf(m.out, "   Name:    %s\n", admin.Name)
	fmt.Fprintf(m.out, "   API Key: %s\n", key)
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "⚠️  Save the API key - it won't be shown again!")
	fmt.Fprintln(m.out)
	return nil
}

func (m *Manager) listAdminsInteractive(ctx context.Context) error {
	keys, err := m.db.ListAdminKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list admin keys: %w", err)
	}
	if len(keys) == 0 {
		fmt.Fprintln(m.out, "\nNo admin keys found.")
		return nil
	}

	fmt.Fprintln(m.out, "\n=== Admin Keys ===")
	for _, k := range keys {
		status := "✅ Active"
		if !k.IsActive {
			status = "❌ Inactive"
		}
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(m.out, "\nID: %d | %s\n", k.ID, status)
		fmt.Fprintf(m.out, "   Name:      %s\n", k.Name)
		fmt.Fprintf(m.out, "   Created:   %s\n", k.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(m.out, "   Last used: %s\n", lastUsed)
	}
	fmt.Fprintln(m.out)
	return nil
}

func (m *Manager) deleteAdminInteractive(ctx context.Context) error {
	keys, err := m.db.ListAdminKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list admin keys: %w", err)
	}
	if len(keys) == 0 {
		fmt.Fprintln(m.out, "\nNo admin keys found.")
		return nil
	}

	options := []huh.Option[int64]{huh.NewOption("Cancel", int64(0))}
	for _, k := range keys {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (ID: %d)", k.Name, k.ID), k.ID))
	}

	var selectedID int64
	var confirm bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int64]().
				Title("Select Admin Key to Delete").
				Options(options...).
				Value(&selectedID),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	if selectedID == 0 {
		fmt.Fprintln(m.out, "\nCancelled.")
		return nil
	}

	form = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Delete admin key %d?", selectedID)).
				Affirmative("Yes, delete").
				Negative("No, cancel").
				Value(&confirm),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	if !confirm {
		fmt.Fprintln(m.out, "\nCancelled.")
		return nil
	}

	if err := m.db.DeleteAdminKey(ctx, selectedID); err != nil {
		return fmt.Errorf("failed to delete admin key: %w", err)
	}
	fmt.Fprintf(m.out, "\n✅ Admin key %d deleted.\n\n", selectedID)
	return nil
}

func (m *Manager) printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(m.out, string(data))
}
