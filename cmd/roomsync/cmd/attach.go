package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/nfrund/roomsync/internal/chat"
	"github.com/nfrund/roomsync/internal/domain"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newAttachCmd(opts *rootOptions) *cobra.Command {
	var (
		replyTo string
		name    string
	)
	cmd := &cobra.Command{
		Use:   "attach <file>",
		Short: "Upload a file and post it as a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := afero.ReadFile(opts.fs, args[0])
			if err != nil {
				return fmt.Errorf("read attachment: %w", err)
			}
			if name == "" {
				name = filepath.Base(args[0])
			}

			return opts.withSession(cmd, nil, func(ctx context.Context, s *chat.Session, _ domain.Identity) error {
				if err := setReplyTarget(s, replyTo); err != nil {
					return err
				}
				id, err := s.SendAttachment(ctx, payload, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent %s (%d bytes)\n", id, len(payload))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "quote the message with this id")
	cmd.Flags().StringVar(&name, "filename", "", "name to store the file under (defaults to the file's base name)")
	return cmd
}
