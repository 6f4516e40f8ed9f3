package cmd

import (
	"context"
	"log/slog"

	"github.com/nfrund/roomsync/internal/app"
	"github.com/nfrund/roomsync/internal/config"
	"github.com/nfrund/roomsync/internal/logging"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// rootOptions carries the persistent flags shared by every command.
type rootOptions struct {
	backend     string
	uid         string
	displayName string

	// fs is where attach reads files from.
	fs afero.Fs
}

// NewRootCmd builds the roomsync command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{fs: afero.NewOsFs()}

	rootCmd := &cobra.Command{
		Use:   "roomsync",
		Short: "Realtime group chat client",
		Long: `roomsync is a command-line client for a shared, realtime chat room.

Every connected client sees the same ordered message log. Messages can carry
text or an uploaded attachment, quote the message they reply to, and collect
one reaction per user.

Examples:
  roomsync tail                           # follow the room
  roomsync send "hello"                   # post a message
  roomsync reply <message-id> "agreed"    # quote and answer a message
  roomsync attach ./notes.pdf             # upload and post a file
  roomsync react <message-id> 👍          # toggle a reaction
  roomsync serve                          # serve attachments and the live feed
  roomsync demo                           # scripted exchange on an in-memory log

Configuration comes from the environment and an optional .env file
(SURREAL_URL, SURREAL_NS, SURREAL_DB, CHAT_UID, ATTACHMENT_DIR, ...).`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.backend, "backend", string(app.BackendSurreal), "message log backend: surreal or memory")
	rootCmd.PersistentFlags().StringVar(&opts.uid, "as", "", "act as this user id (overrides CHAT_UID)")
	rootCmd.PersistentFlags().StringVar(&opts.displayName, "name", "", "display name (overrides CHAT_DISPLAY_NAME)")

	rootCmd.AddCommand(
		newTailCmd(opts),
		newSendCmd(opts),
		newReplyCmd(opts),
		newAttachCmd(opts),
		newReactCmd(opts),
		newServeCmd(opts),
		newDemoCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree until ctx is canceled.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// loadConfig reads configuration, applies flag overrides and installs the
// logger. Logs go to stderr so stdout only carries the transcript.
func (o *rootOptions) loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.New()
	if o.uid != "" {
		cfg.UID = o.uid
	}
	if o.displayName != "" {
		cfg.DisplayName = o.displayName
	}
	logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
	slog.Debug("Configuration loaded", "backend", o.backend, "uid", cfg.UID)
	return cfg
}

// connect builds the shared dependencies for the selected backend.
func (o *rootOptions) connect(cmd *cobra.Command) (*app.Dependencies, error) {
	backend, err := app.ParseBackend(o.backend)
	if err != nil {
		return nil, err
	}
	return app.NewDependencies(cmd.Context(), o.loadConfig(cmd), backend)
}
