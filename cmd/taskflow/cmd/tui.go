package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"taskflow/internal/notify"
	"taskflow/internal/tui"
	"taskflow/internal/watcher"
)

// newTuiCmd creates the 'tui' subcommand
func newTuiCmd(stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive task list",
		Long:  "Open a full-screen task list with live updates from other sessions.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyGlobalFlags(cmd, cfg)

			a, err := newApp(cfg, stderr)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			if err := a.start(ctx); err != nil {
				// Stale cached data is still worth showing; the TUI
				// marks the view as cached until a fetch succeeds.
				if !a.eng.Stale() || len(a.eng.Snapshot()) == 0 {
					return err
				}
				notify.Warnf(a.notifier, "could not reach server, showing cached tasks: %v", err)
			}

			// Another process writing the snapshot cache means tasks
			// changed elsewhere on this machine; refresh to pick the
			// changes up ahead of the next poll.
			if a.store != nil && a.appCfg.IsCacheWatchEnabled() {
				w, err := watcher.New(watcher.Config{
					Path: cachePath(cfg, a.appCfg),
					OnChange: func() {
						_ = a.eng.Refresh(ctx)
					},
					OnError: func(err error) {
						notify.Warnf(a.notifier, "cache watch error: %v", err)
					},
				})
				if err == nil {
					// Our own writes land within the suppress window.
					a.eng.OnChange(w.Suppress)
					if err := w.Start(); err != nil {
						notify.Warnf(a.notifier, "cache watch unavailable: %v", err)
					} else {
						defer w.Stop()
					}
				}
			}

			return tui.Run(a.eng, a.user.Email)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}
