package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/roomsync/internal/domain"
	"github.com/nfrund/roomsync/internal/testutils"
	"github.com/stretchr/testify/suite"
	"github.com/surrealdb/surrealdb.go"
)

type MessageStoreSuite struct {
	suite.Suite
	conn  *Connection
	store *MessageStore
}

func TestMessageStoreIntegration(t *testing.T) {
	suite.Run(t, new(MessageStoreSuite))
}

func (s *MessageStoreSuite) SetupSuite() {
	cfg := testutils.ConfigForTests(s.T())

	s.conn = NewConnection(cfg)
	s.Require().NoError(s.conn.Connect(context.Background()))
	s.store = NewMessageStore(s.conn, NewSurrealLiveQueryService(s.conn))
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *MessageStoreSuite) TearDownSuite() {
	if s.conn != nil {
		_ = s.conn.Close(context.Background())
	}
}

func (s *MessageStoreSuite) SetupTest() {
	err := s.conn.WithConnection(context.Background(), func(db *surrealdb.DB) error {
		return Execute(context.Background(), db, "DELETE message", nil)
	})
	s.Require().NoError(err)
}

func (s *MessageStoreSuite) TestAppendAndList() {
	ctx := context.Background()
	alice := testutils.NewTestIdentity("Alice")

	first, err := s.store.Append(ctx, domain.NewDraft(alice, "first"))
	s.Require().NoError(err)
	s.NotEmpty(first)

	reply := domain.NewDraft(alice, "second")
	reply.ReplyTo = &domain.ReplyRef{ID: first, Text: "first", AuthorDisplayName: "Alice"}
	second, err := s.store.Append(ctx, reply)
	s.Require().NoError(err)

	msgs, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(msgs, 2)
	s.Equal(first, msgs[0].ID)
	s.Equal(second, msgs[1].ID)
	s.False(msgs[1].CreatedAt.Before(msgs[0].CreatedAt))
	s.Require().NotNil(msgs[1].ReplyTo)
	s.Equal(first, msgs[1].ReplyTo.ID)
	s.Empty(msgs[0].Reactions)
}

func (s *MessageStoreSuite) TestMutateReactions() {
	ctx := context.Background()
	alice, bob := testutils.NewTestIdentity("Alice"), testutils.NewTestIdentity("Bob")
	id, err := s.store.Append(ctx, domain.NewDraft(alice, "react to me"))
	s.Require().NoError(err)

	s.Require().NoError(s.store.MutateReactions(ctx, id, domain.Reactions{bob.UID: "🎉"}))

	msgs, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal(domain.Reactions{bob.UID: "🎉"}, msgs[0].Reactions)

	err = s.store.MutateReactions(ctx, "doesnotexist", domain.Reactions{})
	s.ErrorIs(err, domain.ErrNotFound)

	msgs, err = s.store.List(ctx)
	s.Require().NoError(err)
	s.Len(msgs, 1)
}

func (s *MessageStoreSuite) TestSubscribeSeesWrites() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var mu sync.Mutex
	var latest []domain.Message
	updates := make(chan struct{}, 16)

	sub, err := s.store.Subscribe(ctx, func(msgs []domain.Message) {
		mu.Lock()
		latest = msgs
		mu.Unlock()
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	s.Require().NoError(err)
	defer sub.Cancel()

	select {
	case <-updates:
	case <-ctx.Done():
		s.FailNow("no initial snapshot")
	}

	id, err := s.store.Append(ctx, domain.NewDraft(testutils.NewTestIdentity("Alice"), "live"))
	s.Require().NoError(err)

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1 && latest[0].ID == id
	}, 5*time.Second, 50*time.Millisecond)
}
