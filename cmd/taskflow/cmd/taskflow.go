package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"taskflow/gateway"
	"taskflow/gateway/supabase"
	"taskflow/internal/cache"
	"taskflow/internal/config"
	"taskflow/internal/engine"
	"taskflow/internal/notify"
	"taskflow/internal/session"
	"taskflow/internal/views"
)

// Version is set at build time
var Version = "dev"

// Result codes for CLI output (used in no-prompt mode)
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// Config holds application configuration
type Config struct {
	NoPrompt   bool
	ConfigPath string // Path to config file (for testing)
	CachePath  string // Path to snapshot cache (for testing)
	LogPath    string // Path to notification log (for testing)

	Keyring       session.Keyring       // Session store override (for testing)
	Gateway       gateway.TaskGateway   // Remote gateway override (for testing)
	User          *session.UserIdentity // Pre-authenticated identity (for testing)
	PasswordInput io.Reader             // Password source override (for testing)
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	rootCmd := NewTaskflow(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		if containsJSONFlag(args) {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
			if cfg != nil && cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultError)
			}
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

func outputErrorJSON(err error, stdout io.Writer) {
	payload := map[string]string{"error": err.Error()}
	jsonBytes, _ := json.Marshal(payload)
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
}

// NewTaskflow creates the root command with injectable IO
func NewTaskflow(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}

	cmd := &cobra.Command{
		Use:     "taskflow",
		Short:   "A synced task list for the terminal",
		Long:    "taskflow keeps a per-user task list in sync with a hosted backend,\nwith optimistic local updates and an offline snapshot cache.",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("no-prompt", "y", false, "Disable interactive prompts")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().String("config", "", "Path to config file")

	cmd.AddCommand(newLoginCmd(stdout, stderr, cfg))
	cmd.AddCommand(newSignupCmd(stdout, stderr, cfg))
	cmd.AddCommand(newLogoutCmd(stdout, cfg))
	cmd.AddCommand(newWhoamiCmd(stdout, cfg))
	cmd.AddCommand(newAddCmd(stdout, stderr, cfg))
	cmd.AddCommand(newListCmd(stdout, stderr, cfg))
	cmd.AddCommand(newDoneCmd(stdout, stderr, cfg))
	cmd.AddCommand(newUndoCmd(stdout, stderr, cfg))
	cmd.AddCommand(newEditCmd(stdout, stderr, cfg))
	cmd.AddCommand(newRmCmd(stdout, stderr, cfg))
	cmd.AddCommand(newTuiCmd(stderr, cfg))

	return cmd
}

// applyGlobalFlags folds persistent flag values back into the config
func applyGlobalFlags(cmd *cobra.Command, cfg *Config) {
	if noPrompt, _ := cmd.Flags().GetBool("no-prompt"); noPrompt {
		cfg.NoPrompt = true
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = path
	}
}

// loadAppConfig loads the config file and applies environment overrides
func loadAppConfig(cfg *Config) (*config.Config, error) {
	appCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("TASKFLOW_BASE_URL"); v != "" {
		appCfg.Remote.BaseURL = v
	}
	if v := os.Getenv("TASKFLOW_ANON_KEY"); v != "" {
		appCfg.Remote.AnonKey = v
	}
	if err := appCfg.Validate(); err != nil {
		return nil, err
	}
	return appCfg, nil
}

func newProvider(cfg *Config, appCfg *config.Config) *session.Provider {
	return session.New(session.Config{
		BaseURL: appCfg.Remote.BaseURL,
		AnonKey: appCfg.Remote.AnonKey,
		Keyring: cfg.Keyring,
		Timeout: appCfg.GetRemoteTimeout(),
	})
}

func cachePath(cfg *Config, appCfg *config.Config) string {
	if cfg.CachePath != "" {
		return cfg.CachePath
	}
	return appCfg.GetCachePath()
}

func logPath(cfg *Config, appCfg *config.Config) string {
	if cfg.LogPath != "" {
		return cfg.LogPath
	}
	return appCfg.GetLogPath()
}

// app bundles the wired-up collaborators behind a single command run.
type app struct {
	cfg      *Config
	appCfg   *config.Config
	provider *session.Provider
	user     session.UserIdentity
	gw       gateway.TaskGateway
	ownGw    bool
	store    *cache.Store
	writer   *cache.Writer
	eng      *engine.Engine
	notifier notify.Notifier
}

// newApp wires the session, gateway, cache and engine for a signed-in
// user. It fails fast when no session exists.
func newApp(cfg *Config, stderr io.Writer) (*app, error) {
	appCfg, err := loadAppConfig(cfg)
	if err != nil {
		return nil, err
	}

	provider := newProvider(cfg, appCfg)

	user := cfg.User
	if user == nil {
		user = provider.CurrentUser()
	}
	if user == nil {
		return nil, fmt.Errorf("not signed in (run 'taskflow login' first)")
	}

	var notifier notify.Notifier = notify.NewWriterNotifier(stderr)
	if appCfg.IsLoggingEnabled() {
		notifier = notify.Multi(notifier, notify.NewLogNotifier(logPath(cfg, appCfg)))
	}

	gw := cfg.Gateway
	ownGw := false
	if gw == nil {
		g, err := supabase.New(supabase.Config{
			BaseURL:      appCfg.Remote.BaseURL,
			AnonKey:      appCfg.Remote.AnonKey,
			TokenFunc:    provider.AccessToken,
			PollInterval: appCfg.GetPollInterval(),
			MaxRetries:   appCfg.GetMaxRetries(),
		})
		if err != nil {
			return nil, err
		}
		gw = g
		ownGw = true
	}

	// The cache is an optimization; failing to open it downgrades to
	// warnings, never an error.
	var store *cache.Store
	var writer *cache.Writer
	if path := cachePath(cfg, appCfg); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			notify.Warnf(notifier, "local cache unavailable: %v", err)
		} else if s, err := cache.Open(path); err != nil {
			notify.Warnf(notifier, "local cache unavailable: %v", err)
		} else {
			store = s
			writer = cache.NewWriter(s, appCfg.GetWriteDelay(), func(err error) {
				notify.Warnf(notifier, "cache write failed: %v", err)
			})
		}
	}

	eng := engine.New(engine.Config{
		Gateway:  gw,
		Store:    store,
		Writer:   writer,
		Notifier: notifier,
	})

	return &app{
		cfg:      cfg,
		appCfg:   appCfg,
		provider: provider,
		user:     *user,
		gw:       gw,
		ownGw:    ownGw,
		store:    store,
		writer:   writer,
		eng:      eng,
		notifier: notifier,
	}, nil
}

func (a *app) start(ctx context.Context) error {
	return a.eng.Start(ctx, a.user.ID)
}

func (a *app) close() {
	a.eng.Stop()
	if a.writer != nil {
		a.writer.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.ownGw {
		_ = a.gw.Close()
	}
}

// resolveTask matches a task reference against the current snapshot.
// A reference is an exact id, a unique id prefix, or a case-insensitive
// title match.
func resolveTask(tasks []gateway.Task, ref string) (gateway.Task, error) {
	for _, t := range tasks {
		if t.ID == ref {
			return t, nil
		}
	}

	var matches []gateway.Task
	for _, t := range tasks {
		if strings.EqualFold(t.Title, ref) {
			matches = append(matches, t)
		}
	}
	if len(matches) == 0 && len(ref) >= 4 {
		for _, t := range tasks {
			if strings.HasPrefix(t.ID, ref) {
				matches = append(matches, t)
			}
		}
	}

	switch len(matches) {
	case 0:
		return gateway.Task{}, fmt.Errorf("no task matching '%s'", ref)
	case 1:
		return matches[0], nil
	default:
		var titles []string
		for _, t := range matches {
			titles = append(titles, fmt.Sprintf("%s (%s)", t.Title, shortID(t.ID)))
		}
		return gateway.Task{}, fmt.Errorf("'%s' matches multiple tasks: %s", ref, strings.Join(titles, ", "))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// newAddCmd creates the 'add' subcommand
func newAddCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "add [title]",
		Short: "Add a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyGlobalFlags(cmd, cfg)

			a, err := newApp(cfg, stderr)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			if err := a.start(ctx); err != nil {
				return err
			}

			task, err := a.eng.Create(ctx, args[0])
			if err != nil {
				return err
			}

			jsonOutput, _ := cmd.Flags().GetBool("json")
			if jsonOutput {
				return outputTaskJSON(*task, stdout)
			}
			_, _ = fmt.Fprintf(stdout, "Added task: %s\n", task.Title)
			if cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultActionCompleted)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newListCmd creates the 'list' subcommand
func newListCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"get", "ls"},
		Short:   "List tasks",
		Long:    "List tasks, newest first. Falls back to the cached snapshot when offline.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyGlobalFlags(cmd, cfg)

			a, err := newApp(cfg, stderr)
			if err != nil {
				return err
			}
			defer a.close()

			filterStr, _ := cmd.Flags().GetString("filter")
			if filterStr == "" {
				filterStr = a.appCfg.DefaultView
			}
			filter, err := views.ParseFilter(filterStr)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if err := a.start(ctx); err != nil {
				// Offline with a cached snapshot still renders; the
				// stale flag tells the user what they are looking at.
				if !a.eng.Stale() || len(a.eng.Snapshot()) == 0 {
					return err
				}
				notify.Warnf(a.notifier, "could not reach server, showing cached tasks: %v", err)
			}

			tasks := views.Apply(a.eng.Snapshot(), filter)

			jsonOutput, _ := cmd.Flags().GetBool("json")
			if jsonOutput {
				return outputTaskListJSON(tasks, stdout)
			}

			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(stdout, "No tasks. Add one with: taskflow add \"My task\"")
			} else {
				counts := views.Count(a.eng.Snapshot())
				_, _ = fmt.Fprintf(stdout, "Tasks (%d active, %d completed):\n\n", counts.Active, counts.Completed)
				for _, t := range tasks {
					box := " "
					if t.IsComplete {
						box = "x"
					}
					_, _ = fmt.Fprintf(stdout, "  [%s] %-*s %s\n", box, 40, t.Title, shortID(t.ID))
				}
			}

			if cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultInfoOnly)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringP("filter", "f", "", "Filter tasks: all, active or completed")
	return cmd
}

// newDoneCmd creates the 'done' subcommand
func newDoneCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "done [task]",
		Short: "Mark a task as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetComplete(cmd, args[0], true, stdout, stderr, cfg)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newUndoCmd creates the 'undo' subcommand
func newUndoCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "undo [task]",
		Short: "Mark a completed task as active again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetComplete(cmd, args[0], false, stdout, stderr, cfg)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func runSetComplete(cmd *cobra.Command, ref string, complete bool, stdout, stderr io.Writer, cfg *Config) error {
	applyGlobalFlags(cmd, cfg)

	a, err := newApp(cfg, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	if err := a.start(ctx); err != nil {
		return err
	}

	task, err := resolveTask(a.eng.Snapshot(), ref)
	if err != nil {
		return err
	}

	if err := a.eng.Update(ctx, task.ID, gateway.TaskFields{IsComplete: &complete}); err != nil {
		return err
	}

	verb := "Completed"
	if !complete {
		verb = "Reopened"
	}
	_, _ = fmt.Fprintf(stdout, "%s task: %s\n", verb, task.Title)
	if cfg.NoPrompt {
		_, _ = fmt.Fprintln(stdout, ResultActionCompleted)
	}
	return nil
}

// newEditCmd creates the 'edit' subcommand
func newEditCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit [task]",
		Short: "Change a task's title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyGlobalFlags(cmd, cfg)

			newTitle, _ := cmd.Flags().GetString("title")
			if !cmd.Flags().Changed("title") {
				return fmt.Errorf("edit requires --title")
			}

			a, err := newApp(cfg, stderr)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			if err := a.start(ctx); err != nil {
				return err
			}

			task, err := resolveTask(a.eng.Snapshot(), args[0])
			if err != nil {
				return err
			}

			if err := a.eng.Update(ctx, task.ID, gateway.TaskFields{Title: &newTitle}); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(stdout, "Updated task: %s\n", newTitle)
			if cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultActionCompleted)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().String("title", "", "New task title")
	return cmd
}

// newRmCmd creates the 'rm' subcommand
func newRmCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:     "rm [task]",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyGlobalFlags(cmd, cfg)

			a, err := newApp(cfg, stderr)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			if err := a.start(ctx); err != nil {
				return err
			}

			task, err := resolveTask(a.eng.Snapshot(), args[0])
			if err != nil {
				return err
			}

			if err := a.eng.Delete(ctx, task.ID); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(stdout, "Deleted task: %s\n", task.Title)
			if cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultActionCompleted)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

type taskJSON struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	IsComplete bool   `json:"is_complete"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

func toTaskJSON(t gateway.Task) taskJSON {
	out := taskJSON{
		ID:         t.ID,
		Title:      t.Title,
		IsComplete: t.IsComplete,
	}
	if t.CreatedAt != nil {
		out.CreatedAt = t.CreatedAt.UTC().Format(time.RFC3339)
	}
	if t.UpdatedAt != nil {
		out.UpdatedAt = t.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func outputTaskJSON(t gateway.Task, stdout io.Writer) error {
	jsonBytes, err := json.Marshal(toTaskJSON(t))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
	return nil
}

func outputTaskListJSON(tasks []gateway.Task, stdout io.Writer) error {
	output := make([]taskJSON, 0, len(tasks))
	for _, t := range tasks {
		output = append(output, toTaskJSON(t))
	}
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
	return nil
}
