package cmd

import (
	"context"
	"fmt"

	"github.com/nfrund/roomsync/internal/chat"
	"github.com/nfrund/roomsync/internal/domain"
	"github.com/nfrund/roomsync/internal/reaction"
	"github.com/spf13/cobra"
)

func newReactCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "react <message-id> <symbol>",
		Short: "Toggle your reaction on a message",
		Long: fmt.Sprintf(`Toggle your reaction on a message.

Reacting with the symbol you already chose removes it; any other symbol
replaces it. Available symbols: %v`, reaction.DefaultPalette),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, nil, func(ctx context.Context, s *chat.Session, self domain.Identity) error {
				id := domain.MessageID(args[0])
				before, _ := findMessage(s, id)
				if err := s.React(ctx, id, args[1]); err != nil {
					return err
				}
				if prev, ok := before.ReactionOf(self.UID); ok && prev == args[1] {
					fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %s\n", args[1], id)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reacted %s to %s\n", args[1], id)
				return nil
			})
		},
	}
}
