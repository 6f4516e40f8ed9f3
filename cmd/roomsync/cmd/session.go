package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/nfrund/roomsync/internal/chat"
	"github.com/nfrund/roomsync/internal/domain"
	"github.com/nfrund/roomsync/internal/reaction"
	"github.com/spf13/cobra"
)

const (
	liveTimeout = 15 * time.Second
	pollEvery   = 10 * time.Millisecond
)

// sessionFunc runs with a live session for the configured user.
type sessionFunc func(ctx context.Context, s *chat.Session, self domain.Identity) error

// updateFunc builds the snapshot callback once the user is known.
type updateFunc func(self domain.Identity) func([]domain.Message)

// withSession connects, starts a session and waits for the first snapshot
// before calling fn. Everything is torn down when fn returns.
func (o *rootOptions) withSession(cmd *cobra.Command, updates updateFunc, fn sessionFunc) (err error) {
	ctx := cmd.Context()
	deps, err := o.connect(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := deps.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ident, err := deps.Identity()
	if err != nil {
		return fmt.Errorf("set CHAT_UID or pass --as: %w", err)
	}
	defer ident.SignOut()
	self, err := ident.Current(ctx)
	if err != nil {
		return err
	}

	var onUpdate func([]domain.Message)
	if updates != nil {
		onUpdate = updates(self)
	}
	session := deps.NewSession(ident, chat.Config{
		Palette:  reaction.DefaultPalette,
		OnUpdate: onUpdate,
	})
	if err := startLive(ctx, session); err != nil {
		return err
	}
	defer session.Stop()

	return fn(ctx, session, self)
}

// startLive starts s and blocks until its first snapshot arrives.
func startLive(ctx context.Context, s *chat.Session) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, liveTimeout)
	defer cancel()
	if err := s.WaitLive(waitCtx); err != nil {
		s.Stop()
		return fmt.Errorf("waiting for the message log: %w", err)
	}
	return nil
}

// findMessage looks id up in the session's live log.
func findMessage(s *chat.Session, id domain.MessageID) (domain.Message, error) {
	for _, m := range s.Messages() {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Message{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
}

// awaitMessage waits until id shows up in the session's live log.
func awaitMessage(ctx context.Context, s *chat.Session, id domain.MessageID) (domain.Message, error) {
	var found domain.Message
	err := awaitView(ctx, s, func(msgs []domain.Message) bool {
		for _, m := range msgs {
			if m.ID == id {
				found = m
				return true
			}
		}
		return false
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("message %s never reached the log: %w", id, err)
	}
	return found, nil
}

// awaitView polls the session's live log until cond holds.
func awaitView(ctx context.Context, s *chat.Session, cond func([]domain.Message) bool) error {
	ctx, cancel := context.WithTimeout(ctx, liveTimeout)
	defer cancel()
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		if cond(s.Messages()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// setReplyTarget quotes the message with the given id, if any.
func setReplyTarget(s *chat.Session, id string) error {
	if id == "" {
		return nil
	}
	parent, err := findMessage(s, domain.MessageID(id))
	if err != nil {
		return err
	}
	s.SetReplyTarget(parent)
	return nil
}
