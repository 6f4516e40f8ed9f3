package cmd

import (
	"context"
	"fmt"

	"github.com/nfrund/roomsync/internal/chat"
	"github.com/nfrund/roomsync/internal/domain"
	"github.com/nfrund/roomsync/internal/reaction"
	"github.com/spf13/cobra"
)

func newTailCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Follow the room, printing the full log on every change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			updates := func(self domain.Identity) func([]domain.Message) {
				fmt.Fprintln(out, greeting(self))
				return func(msgs []domain.Message) {
					renderLog(out, msgs, self.UID, reaction.DefaultPalette)
				}
			}
			return opts.withSession(cmd, updates, func(ctx context.Context, _ *chat.Session, _ domain.Identity) error {
				<-ctx.Done()
				return nil
			})
		},
	}
}
