package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nfrund/roomsync/internal/app"
	"github.com/nfrund/roomsync/internal/chat"
	"github.com/nfrund/roomsync/internal/domain"
	"github.com/nfrund/roomsync/internal/identity"
	"github.com/nfrund/roomsync/internal/reaction"
	"github.com/spf13/cobra"
)

func newDemoCmd(opts *rootOptions) *cobra.Command {
	var (
		serve bool
		addr  string
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted two-user exchange on an in-memory log",
		Long: `Run a scripted two-user exchange on an in-memory log.

alice and bob each get their own session over the same log. They post,
reply, react and upload an attachment, then the final transcript is
printed. With --serve the room stays up behind the HTTP server so the
snapshot feed and attachment URLs can be inspected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			opts.backend = string(app.BackendMemory)
			deps, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := deps.Close(context.Background()); cerr != nil && err == nil {
					err = cerr
				}
			}()

			out := cmd.OutOrStdout()
			failures := &chat.CountingNotifier{Next: chat.NotifierFunc(func(n chat.Notice) {
				fmt.Fprintf(out, "! %s\n", n)
			})}
			if err := runDemo(cmd.Context(), deps, out, failures); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d action(s) failed\n", failures.Count())

			if !serve {
				return nil
			}
			if addr == "" {
				addr = deps.Config.ServerAddr
			}
			return deps.NewServer().Start(cmd.Context(), addr)
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "keep the room up behind the HTTP server afterwards")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address for --serve (defaults to SERVER_ADDR)")
	return cmd
}

func demoSession(ctx context.Context, deps *app.Dependencies, id domain.Identity, notifier chat.Notifier) (*chat.Session, error) {
	ident, err := identity.NewStatic(id)
	if err != nil {
		return nil, err
	}
	s := deps.NewSession(ident, chat.Config{
		Palette:  reaction.DefaultPalette,
		Notifier: notifier,
	})
	if err := startLive(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func runDemo(ctx context.Context, deps *app.Dependencies, out io.Writer, notifier chat.Notifier) error {
	aliceID := domain.Identity{UID: "alice", DisplayName: "alice"}
	bobID := domain.Identity{UID: "bob", DisplayName: "bob"}

	alice, err := demoSession(ctx, deps, aliceID, notifier)
	if err != nil {
		return err
	}
	defer alice.Stop()
	bob, err := demoSession(ctx, deps, bobID, notifier)
	if err != nil {
		return err
	}
	defer bob.Stop()
	fmt.Fprintln(out, greeting(aliceID))
	fmt.Fprintln(out, greeting(bobID))

	hi, err := alice.SendText(ctx, "Hi everyone!")
	if err != nil {
		return err
	}
	parent, err := awaitMessage(ctx, bob, hi)
	if err != nil {
		return err
	}
	bob.SetReplyTarget(parent)
	answer, err := bob.SendText(ctx, "Hey alice, welcome back")
	if err != nil {
		return err
	}
	if err := bob.React(ctx, hi, "👍"); err != nil {
		return err
	}

	if _, err := awaitMessage(ctx, alice, answer); err != nil {
		return err
	}
	if err := alice.React(ctx, answer, "🎉"); err != nil {
		return err
	}
	notes, err := alice.SendAttachment(ctx, []byte("agenda:\n- sync\n- ship\n"), "agenda.txt")
	if err != nil {
		return err
	}

	// Outside the palette: rejected and reported to the notifier.
	if err := bob.React(ctx, hi, "🦄"); !errors.Is(err, domain.ErrUnknownReaction) {
		return fmt.Errorf("expected an unknown reaction, got %v", err)
	}

	err = awaitView(ctx, alice, func(msgs []domain.Message) bool {
		var done int
		for _, m := range msgs {
			switch m.ID {
			case hi:
				if s, _ := m.ReactionOf(bobID.UID); s == "👍" {
					done++
				}
			case answer:
				if s, _ := m.ReactionOf(aliceID.UID); s == "🎉" {
					done++
				}
			case notes:
				done++
			}
		}
		return done == 3
	})
	if err != nil {
		return fmt.Errorf("waiting for the exchange to settle: %w", err)
	}

	renderLog(out, alice.Messages(), aliceID.UID, reaction.DefaultPalette)
	return nil
}
