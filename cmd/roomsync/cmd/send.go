package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/nfrund/roomsync/internal/chat"
	"github.com/nfrund/roomsync/internal/domain"
	"github.com/spf13/cobra"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	var replyTo string
	cmd := &cobra.Command{
		Use:   "send <text>...",
		Short: "Post a text message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, nil, func(ctx context.Context, s *chat.Session, _ domain.Identity) error {
				if err := setReplyTarget(s, replyTo); err != nil {
					return err
				}
				return sendText(ctx, cmd, s, strings.Join(args, " "))
			})
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "quote the message with this id")
	return cmd
}

func newReplyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reply <message-id> <text>...",
		Short: "Quote a message and answer it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, nil, func(ctx context.Context, s *chat.Session, _ domain.Identity) error {
				if err := setReplyTarget(s, args[0]); err != nil {
					return err
				}
				return sendText(ctx, cmd, s, strings.Join(args[1:], " "))
			})
		},
	}
}

func sendText(ctx context.Context, cmd *cobra.Command, s *chat.Session, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is blank")
	}
	id, err := s.SendText(ctx, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", id)
	return nil
}
