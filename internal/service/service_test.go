package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-platform/internal/apperror"
	"github.com/capitalize-ai/messaging-platform/internal/media"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/push"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

type recordingDispatcher struct {
	mu            sync.Mutex
	sent          []*model.Message
	notifications []int64
}

func (d *recordingDispatcher) MessageSent(ctx context.Context, msg *model.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
}

func (d *recordingDispatcher) MessageNotification(ctx context.Context, conversationID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications = append(d.notifications, conversationID)
}

type recordingQueue struct {
	payloads []push.MessagePushPayload
	err      error
}

func (q *recordingQueue) EnqueueMessagePush(ctx context.Context, p push.MessagePushPayload) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.payloads = append(q.payloads, p)
	return "task", nil
}

type memoryStorage struct {
	saved   []string
	removed []string
	failAt  int
}

func (s *memoryStorage) Save(ctx context.Context, u media.Upload) (model.Attachment, error) {
	if s.failAt > 0 && len(s.saved)+1 == s.failAt {
		return model.Attachment{}, errors.New("disk full")
	}
	p := "attachments/" + u.Filename
	s.saved = append(s.saved, p)
	return model.Attachment{Path: p, OriginalName: u.Filename, MimeType: u.ContentType, SizeBytes: u.Size}, nil
}

func (s *memoryStorage) Remove(ctx context.Context, relPath string) error {
	s.removed = append(s.removed, relPath)
	return nil
}

// racingStore loses the first creation race: another request inserts the
// pair just before this one does.
type racingStore struct {
	*store.Memory
	once sync.Once
}

func (r *racingStore) CreatePrivateConversation(ctx context.Context, creatorID, otherID int64) (*model.Conversation, error) {
	raced := false
	r.once.Do(func() {
		_, _ = r.Memory.CreatePrivateConversation(ctx, otherID, creatorID)
		raced = true
	})
	if raced {
		return nil, store.ErrUniqueViolation
	}
	return r.Memory.CreatePrivateConversation(ctx, creatorID, otherID)
}

type fixture struct {
	store         store.Store
	conversations *ConversationService
	messages      *MessageService
	unread        *UnreadService
	blocks        *BlockService
	devices       *DeviceService
	dispatcher    *recordingDispatcher
	queue         *recordingQueue
	storage       *memoryStorage
}

func newFixture(t *testing.T, s store.Store) *fixture {
	t.Helper()
	log := logger.Nop()
	gate := NewGate(s)
	f := &fixture{
		store:      s,
		dispatcher: &recordingDispatcher{},
		queue:      &recordingQueue{},
		storage:    &memoryStorage{},
	}
	f.conversations = NewConversationService(s, gate, log)
	f.messages = NewMessageService(s, gate, f.storage, media.Validator{MaxBytes: 1024, MaxFiles: 3}, f.dispatcher, f.queue, log)
	f.unread = NewUnreadService(s)
	f.blocks = NewBlockService(s, log)
	f.devices = NewDeviceService(s)
	return f
}

func (f *fixture) user(t *testing.T, name string) *model.User {
	t.Helper()
	u := &model.User{Name: name, Email: name + "@example.com"}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) send(t *testing.T, convID, senderID int64, content string) *model.Message {
	t.Helper()
	msg, err := f.messages.Send(context.Background(), SendMessageInput{ConversationID: convID, SenderID: senderID, Content: content})
	require.NoError(t, err)
	return msg
}

func assertKind(t *testing.T, err error, kind apperror.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperror.KindOf(err), err.Error())
}

func TestOpenCreatesConversationOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	first, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UserSummary{ID: bob.ID, Name: "bob"}, first.OtherUser)
	assert.Empty(t, first.Messages)
	assert.Equal(t, alice.ID, first.Conversation.CreatorID)

	second, err := f.conversations.Open(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, "alice", second.OtherUser.Name)
}

func TestOpenRejectsSelfAndUnknownUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice := f.user(t, "alice")

	_, err := f.conversations.Open(ctx, alice.ID, alice.ID)
	assertKind(t, err, apperror.ValidationFailed)

	_, err = f.conversations.Open(ctx, alice.ID, 999)
	assertKind(t, err, apperror.NotFound)
}

func TestOpenRecoversFromCreationRace(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFixture(t, &racingStore{Memory: mem})
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	view, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	found, err := mem.FindPrivateConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, found.ID, view.Conversation.ID)
	assert.Equal(t, bob.ID, view.Conversation.CreatorID)
}

func TestOpenConcurrentlyYieldsSingleConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	const n = 16
	ids := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller, other := alice.ID, bob.ID
			if i%2 == 1 {
				caller, other = other, caller
			}
			view, err := f.conversations.Open(ctx, caller, other)
			errs[i] = err
			if err == nil {
				ids[i] = view.Conversation.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestOpenConcurrentlyOnPostgresYieldsSingleConversation(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pg, err := store.Connect(ctx, dsn, 20)
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	require.NoError(t, pg.Migrate(ctx))

	f := newFixture(t, pg)
	var users []*model.User
	for i := 0; i < 2; i++ {
		u := &model.User{Name: "user", Email: uuid.NewString() + "@example.com", PasswordHash: "x"}
		require.NoError(t, pg.CreateUser(ctx, u))
		users = append(users, u)
	}

	const n = 16
	ids := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller, other := users[i%2].ID, users[(i+1)%2].ID
			view, err := f.conversations.Open(ctx, caller, other)
			errs[i] = err
			if err == nil {
				ids[i] = view.Conversation.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestOpenMarksCounterpartMessagesRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	view, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	convID := view.Conversation.ID
	f.send(t, convID, alice.ID, "hi")
	f.send(t, convID, bob.ID, "hello")
	f.send(t, convID, bob.ID, "there")

	summary, err := f.unread.Compute(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)

	got, err := f.conversations.Get(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.False(t, got.Messages[1].IsRead)

	opened, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	for _, m := range opened.Messages {
		if m.SenderID == bob.ID {
			assert.True(t, m.IsRead)
		} else {
			assert.False(t, m.IsRead)
		}
	}

	summary, err = f.unread.Compute(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, summary.PerConversation)

	summary, err = f.unread.Compute(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
}

func TestSendPublishesAndEnqueuesPush(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	require.NoError(t, f.devices.RegisterPushToken(ctx, bob.ID, "device-token"))

	view, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	msg := f.send(t, view.Conversation.ID, alice.ID, "  hello bob  ")
	assert.Equal(t, "hello bob", msg.Content)
	assert.Equal(t, "alice", msg.SenderName)
	assert.NotZero(t, msg.ID)
	assert.NotNil(t, msg.Attachments)

	require.Len(t, f.dispatcher.sent, 1)
	assert.Equal(t, msg.ID, f.dispatcher.sent[0].ID)
	assert.Equal(t, []int64{view.Conversation.ID}, f.dispatcher.notifications)

	require.Len(t, f.queue.payloads, 1)
	assert.Equal(t, bob.ID, f.queue.payloads[0].RecipientID)
	assert.Equal(t, "device-token", f.queue.payloads[0].Token)
	assert.Equal(t, "hello bob", f.queue.payloads[0].Body)
}

func TestSendSkipsPushWithoutTokenAndSurvivesQueueFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	view, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	f.send(t, view.Conversation.ID, alice.ID, "no token yet")
	assert.Empty(t, f.queue.payloads)

	require.NoError(t, f.devices.RegisterPushToken(ctx, bob.ID, "tok"))
	f.queue.err = errors.New("redis down")
	msg := f.send(t, view.Conversation.ID, alice.ID, "queue is down")
	assert.NotZero(t, msg.ID)
	assert.Len(t, f.dispatcher.sent, 2)
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	view, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	convID := view.Conversation.ID

	long := make([]rune, MaxContentLength+1)
	for i := range long {
		long[i] = 'é'
	}

	tests := []struct {
		name string
		in   SendMessageInput
		kind apperror.Kind
	}{
		{"blank", SendMessageInput{ConversationID: convID, SenderID: alice.ID, Content: "   "}, apperror.ValidationFailed},
		{"too long", SendMessageInput{ConversationID: convID, SenderID: alice.ID, Content: string(long)}, apperror.ValidationFailed},
		{"bad attachment", SendMessageInput{ConversationID: convID, SenderID: alice.ID, Attachments: []media.Upload{
			media.BytesUpload("a.png", "image/png", pngBytes),
			media.BytesUpload("b.exe", "application/octet-stream", []byte("MZ")),
		}}, apperror.ValidationFailed},
		{"non member", SendMessageInput{ConversationID: convID, SenderID: carol.ID, Content: "hi"}, apperror.Forbidden},
		{"missing conversation", SendMessageInput{ConversationID: 404, SenderID: alice.ID, Content: "hi"}, apperror.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.messages.Send(ctx, tt.in)
			assertKind(t, err, tt.kind)
		})
	}

	msgs, err := f.store.ListMessages(ctx, convID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, f.storage.saved)
	assert.Empty(t, f.dispatcher.sent)
}

func TestSendExactlyMaxLengthIsAccepted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	view, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	content := make([]rune, MaxContentLength)
	for i := range content {
		content[i] = 'ü'
	}
	f.send(t, view.Conversation.ID, alice.ID, string(content))
}

func TestSendWithAttachmentsOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	view, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	msg, err := f.messages.Send(ctx, SendMessageInput{
		ConversationID: view.Conversation.ID,
		SenderID:       alice.ID,
		Attachments:    []media.Upload{media.BytesUpload("photo.png", "image/png", pngBytes)},
	})
	require.NoError(t, err)
	assert.Equal(t, "", msg.Content)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "photo.png", msg.Attachments[0].OriginalName)
	assert.Equal(t, msg.ID, msg.Attachments[0].MessageID)
}

func TestSendCleansUpFilesWhenStorageFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	view, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	f.storage.failAt = 2
	_, err = f.messages.Send(ctx, SendMessageInput{
		ConversationID: view.Conversation.ID,
		SenderID:       alice.ID,
		Attachments: []media.Upload{
			media.BytesUpload("a.png", "image/png", pngBytes),
			media.BytesUpload("b.png", "image/png", pngBytes),
		},
	})
	assertKind(t, err, apperror.Internal)
	assert.Equal(t, f.storage.saved, f.storage.removed)

	msgs, err := f.store.ListMessages(ctx, view.Conversation.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendSurvivesCancelledContextAfterCommit(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	view, err := f.conversations.Open(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	disp := &ctxCheckingDispatcher{}
	f.messages.dispatcher = disp

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.messages.Send(ctx, SendMessageInput{ConversationID: view.Conversation.ID, SenderID: alice.ID, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 2, disp.calls)
	assert.Zero(t, disp.cancelled)
}

type ctxCheckingDispatcher struct {
	calls     int
	cancelled int
}

func (d *ctxCheckingDispatcher) MessageSent(ctx context.Context, msg *model.Message) {
	d.observe(ctx)
}

func (d *ctxCheckingDispatcher) MessageNotification(ctx context.Context, conversationID int64) {
	d.observe(ctx)
}

func (d *ctxCheckingDispatcher) observe(ctx context.Context) {
	d.calls++
	if ctx.Err() != nil {
		d.cancelled++
	}
}

func TestListConversations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")

	empty, err := f.conversations.List(ctx, alice.ID)
	require.NoError(t, err)
	assert.NotNil(t, empty.Conversations)
	assert.Equal(t, 0, empty.Total)

	withBob, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	withCarol, err := f.conversations.Open(ctx, alice.ID, carol.ID)
	require.NoError(t, err)
	f.send(t, withCarol.Conversation.ID, carol.ID, "first")
	f.send(t, withBob.Conversation.ID, bob.ID, "latest")

	list, err := f.conversations.List(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, withBob.Conversation.ID, list.Conversations[0].ConversationID)
	assert.Equal(t, "bob", list.Conversations[0].OtherUser.Name)
	require.NotNil(t, list.Conversations[0].LastMessage)
	assert.Equal(t, "latest", list.Conversations[0].LastMessage.Content)
	assert.Equal(t, 1, list.Conversations[0].UnreadCount)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	view, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	f.send(t, view.Conversation.ID, bob.ID, "one")
	f.send(t, view.Conversation.ID, bob.ID, "two")

	_, err = f.conversations.MarkRead(ctx, carol.ID, view.Conversation.ID)
	assertKind(t, err, apperror.Forbidden)

	_, err = f.conversations.MarkRead(ctx, alice.ID, 404)
	assertKind(t, err, apperror.NotFound)

	marked, err := f.conversations.MarkRead(ctx, alice.ID, view.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	marked, err = f.conversations.MarkRead(ctx, alice.ID, view.Conversation.ID)
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestBlockHidesConversationUntilBothUnblock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	view, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	convID := view.Conversation.ID
	f.send(t, convID, bob.ID, "hi")

	require.NoError(t, f.blocks.Block(ctx, alice.ID, bob.ID))
	require.NoError(t, f.blocks.Block(ctx, bob.ID, alice.ID))

	_, err = f.conversations.Open(ctx, bob.ID, alice.ID)
	assertKind(t, err, apperror.Forbidden)
	_, err = f.messages.Send(ctx, SendMessageInput{ConversationID: convID, SenderID: bob.ID, Content: "hello?"})
	assertKind(t, err, apperror.Forbidden)

	summary, err := f.unread.Compute(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	list, err := f.conversations.List(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, list.Total)

	require.NoError(t, f.blocks.Unblock(ctx, alice.ID, bob.ID))
	_, err = f.conversations.Open(ctx, alice.ID, bob.ID)
	assertKind(t, err, apperror.Forbidden)

	require.NoError(t, f.blocks.Unblock(ctx, bob.ID, alice.ID))
	restored, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, convID, restored.Conversation.ID)
}

func TestBlockPreventsNewConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	require.NoError(t, f.blocks.Block(ctx, bob.ID, alice.ID))
	_, err := f.conversations.Open(ctx, alice.ID, bob.ID)
	assertKind(t, err, apperror.Forbidden)

	_, err = f.store.FindPrivateConversation(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assertKind(t, f.blocks.Block(ctx, alice.ID, alice.ID), apperror.ValidationFailed)
	assertKind(t, f.blocks.Block(ctx, alice.ID, 999), apperror.NotFound)
}

func TestDevicePushToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewMemory())
	alice := f.user(t, "alice")

	assertKind(t, f.devices.RegisterPushToken(ctx, alice.ID, "  "), apperror.ValidationFailed)
	assertKind(t, f.devices.RegisterPushToken(ctx, 999, "tok"), apperror.NotFound)

	require.NoError(t, f.devices.RegisterPushToken(ctx, alice.ID, " tok "))
	u, err := f.store.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, u.PushToken)
	assert.Equal(t, "tok", *u.PushToken)

	require.NoError(t, f.devices.ClearPushToken(ctx, alice.ID))
	u, err = f.store.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, u.PushToken)
}
