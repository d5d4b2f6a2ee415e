package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

// openPostgres connects to DATABASE_URL and migrates it. Tests using it are
// skipped when the variable is unset.
func openPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	p, err := Connect(ctx, dsn, 20)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	require.NoError(t, p.Migrate(ctx))
	return p
}

func seedPostgresUsers(t *testing.T, p *Postgres, n int) []*model.User {
	t.Helper()
	users := make([]*model.User, 0, n)
	for i := 0; i < n; i++ {
		u := &model.User{Name: "user", Email: uuid.NewString() + "@example.com", PasswordHash: "x"}
		require.NoError(t, p.CreateUser(context.Background(), u))
		users = append(users, u)
	}
	return users
}

func TestPostgresConcurrentCreateKeepsOneConversationPerPair(t *testing.T) {
	ctx := context.Background()
	p := openPostgres(t)
	users := seedPostgresUsers(t, p, 2)
	a, b := users[0].ID, users[1].ID

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   []int64
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creator, other := a, b
			if i%2 == 1 {
				creator, other = b, a
			}
			conv, err := p.CreatePrivateConversation(ctx, creator, other)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created = append(created, conv.ID)
			case errors.Is(err, ErrUniqueViolation):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, created, 1)
	assert.Equal(t, n-1, conflicts)

	found, err := p.FindPrivateConversation(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, created[0], found.ID)

	members, err := p.ListMembers(ctx, found.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestPostgresFindPrivateConversationRequiresExactlyTwoMembers(t *testing.T) {
	ctx := context.Background()
	p := openPostgres(t)
	users := seedPostgresUsers(t, p, 3)
	a, b, c := users[0].ID, users[1].ID, users[2].ID

	var convID int64
	require.NoError(t, p.pool.QueryRow(ctx, `
		INSERT INTO conversations (type, creator_id, status) VALUES ('private', $1, 'active')
		RETURNING id`, a).Scan(&convID))
	for _, uid := range []int64{a, b, c} {
		_, err := p.pool.Exec(ctx, `INSERT INTO conversation_user (conversation_id, user_id) VALUES ($1, $2)`, convID, uid)
		require.NoError(t, err)
	}

	_, err := p.FindPrivateConversation(ctx, a, b)
	assert.ErrorIs(t, err, ErrNotFound)

	conv, err := p.CreatePrivateConversation(ctx, a, b)
	require.NoError(t, err)
	found, err := p.FindPrivateConversation(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, found.ID)
}

func TestPostgresMarkReadAndUnreadCounts(t *testing.T) {
	ctx := context.Background()
	p := openPostgres(t)
	users := seedPostgresUsers(t, p, 2)
	alice, bob := users[0].ID, users[1].ID

	conv, err := p.CreatePrivateConversation(ctx, alice, bob)
	require.NoError(t, err)
	for _, body := range []string{"one", "two"} {
		require.NoError(t, p.CreateMessage(ctx, &model.Message{ConversationID: conv.ID, SenderID: alice, Content: body}))
	}
	reply := &model.Message{
		ConversationID: conv.ID,
		SenderID:       bob,
		Content:        "three",
		Attachments:    []model.Attachment{{Path: "a/b.png", OriginalName: "b.png", MimeType: "image/png", SizeBytes: 10}},
	}
	require.NoError(t, p.CreateMessage(ctx, reply))

	counts, err := p.UnreadCounts(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []model.ConversationUnread{{ConversationID: conv.ID, Count: 2}}, counts)

	items, err := p.ListConversationsForUser(ctx, bob)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, alice, items[0].OtherUser.ID)
	assert.Equal(t, 2, items[0].UnreadCount)
	require.NotNil(t, items[0].LastMessage)
	assert.Equal(t, reply.ID, items[0].LastMessage.ID)

	latest, err := p.LatestMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, reply.ID, latest.ID)
	require.Len(t, latest.Attachments, 1)
	assert.Equal(t, "image/png", latest.Attachments[0].MimeType)

	marked, err := p.MarkConversationRead(ctx, conv.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	counts, err = p.UnreadCounts(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, counts)

	counts, err = p.UnreadCounts(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []model.ConversationUnread{{ConversationID: conv.ID, Count: 1}}, counts)

	require.NoError(t, p.SetConversationStatus(ctx, conv.ID, model.ConversationHidden))
	counts, err = p.UnreadCounts(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, counts)
	items, err = p.ListConversationsForUser(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPostgresBlocksAndTokens(t *testing.T) {
	ctx := context.Background()
	p := openPostgres(t)
	users := seedPostgresUsers(t, p, 2)
	a, b := users[0].ID, users[1].ID

	require.NoError(t, p.CreateBlock(ctx, a, b))
	require.NoError(t, p.CreateBlock(ctx, a, b))
	exists, err := p.BlockExists(ctx, b, a)
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, p.DeleteBlock(ctx, a, b))
	exists, err = p.BlockExists(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, p.SetPushToken(ctx, a, "tok"))
	require.NoError(t, p.ClearPushToken(ctx, a, "other"))
	u, err := p.GetUser(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, u.PushToken)
	assert.Equal(t, "tok", *u.PushToken)
	require.NoError(t, p.ClearPushToken(ctx, a, ""))
	u, err = p.GetUser(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, u.PushToken)

	dup := &model.User{Name: "dup", Email: users[0].Email, PasswordHash: "x"}
	assert.ErrorIs(t, p.CreateUser(ctx, dup), ErrUniqueViolation)
}
