package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

var _ Store = (*Memory)(nil)

type blockKey struct {
	blocker int64
	blocked int64
}

type memConversation struct {
	conv     model.Conversation
	pairKey  string
	members  []model.Membership
	messages []model.Message
}

// Memory is an in-process Store. It enforces the same unique pair constraint
// as the relational schema and is used for tests and local development.
type Memory struct {
	mu sync.RWMutex

	nextUserID    int64
	nextConvID    int64
	nextMessageID int64
	nextAttachID  int64
	nextTokenID   int64

	users         map[int64]*model.User
	conversations map[int64]*memConversation
	pairs         map[string]int64
	blocks        map[blockKey]time.Time
	tokens        map[int64]*model.PersonalAccessToken

	now  func() time.Time
	last time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[int64]*model.User),
		conversations: make(map[int64]*memConversation),
		pairs:         make(map[string]int64),
		blocks:        make(map[blockKey]time.Time),
		tokens:        make(map[int64]*model.PersonalAccessToken),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() {}

func (m *Memory) CreateUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(user.Email)
	for _, u := range m.users {
		if email != "" && strings.ToLower(u.Email) == email {
			return ErrUniqueViolation
		}
	}

	m.nextUserID++
	user.ID = m.nextUserID
	user.CreatedAt = m.tick()
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id int64) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SetPushToken(ctx context.Context, userID int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	t := token
	u.PushToken = &t
	return nil
}

func (m *Memory) ClearPushToken(ctx context.Context, userID int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	if token != "" && (u.PushToken == nil || *u.PushToken != token) {
		return nil
	}
	u.PushToken = nil
	return nil
}

func (m *Memory) FindPrivateConversation(ctx context.Context, a, b int64) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.conversations {
		if c.conv.Type != model.ConversationTypePrivate || len(c.members) != 2 {
			continue
		}
		if hasMember(c, a) && hasMember(c, b) {
			out := c.conv
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreatePrivateConversation(ctx context.Context, creatorID, otherID int64) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := model.PairKey(creatorID, otherID)
	if _, exists := m.pairs[key]; exists {
		return nil, ErrUniqueViolation
	}

	now := m.tick()
	m.nextConvID++
	c := &memConversation{
		conv: model.Conversation{
			ID:        m.nextConvID,
			Type:      model.ConversationTypePrivate,
			CreatorID: creatorID,
			Status:    model.ConversationActive,
			CreatedAt: now,
			UpdatedAt: now,
		},
		pairKey: key,
	}
	for _, uid := range []int64{creatorID, otherID} {
		c.members = append(c.members, model.Membership{
			ConversationID: c.conv.ID,
			UserID:         uid,
			Role:           model.RoleMember,
			JoinedAt:       now,
		})
	}
	m.conversations[c.conv.ID] = c
	m.pairs[key] = c.conv.ID

	out := c.conv
	return &out, nil
}

func (m *Memory) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := c.conv
	return &out, nil
}

func (m *Memory) IsMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return false, nil
	}
	return hasMember(c, userID), nil
}

func (m *Memory) ListMembers(ctx context.Context, conversationID int64) ([]model.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]model.Membership(nil), c.members...), nil
}

func (m *Memory) SetConversationStatus(ctx context.Context, conversationID int64, status model.ConversationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.conv.Status = status
	c.conv.UpdatedAt = m.tick()
	return nil
}

func (m *Memory) ListConversationsForUser(ctx context.Context, userID int64) ([]model.ConversationListItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []model.ConversationListItem
	for _, c := range m.conversations {
		if !c.conv.Active() || !hasMember(c, userID) {
			continue
		}
		item := model.ConversationListItem{
			ConversationID: c.conv.ID,
			UpdatedAt:      c.conv.UpdatedAt,
		}
		for _, mem := range c.members {
			if mem.UserID != userID {
				if u, ok := m.users[mem.UserID]; ok {
					item.OtherUser = u.Summary()
				}
			}
		}
		if n := len(c.messages); n > 0 {
			last := m.withSender(c.messages[n-1])
			item.LastMessage = &last
		}
		item.UnreadCount = unreadIn(c, userID)
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].ConversationID > items[j].ConversationID
		}
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

func (m *Memory) CreateMessage(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}

	now := m.tick()
	m.nextMessageID++
	msg.ID = m.nextMessageID
	msg.IsRead = false
	msg.CreatedAt = now
	msg.UpdatedAt = now
	for i := range msg.Attachments {
		m.nextAttachID++
		msg.Attachments[i].ID = m.nextAttachID
		msg.Attachments[i].MessageID = msg.ID
		msg.Attachments[i].CreatedAt = now
	}

	stored := *msg
	stored.Attachments = append([]model.Attachment(nil), msg.Attachments...)
	c.messages = append(c.messages, stored)
	c.conv.UpdatedAt = now
	return nil
}

func (m *Memory) ListMessages(ctx context.Context, conversationID int64) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]model.Message, 0, len(c.messages))
	for _, msg := range c.messages {
		out = append(out, m.withSender(msg))
	}
	return out, nil
}

func (m *Memory) LatestMessage(ctx context.Context, conversationID int64) (*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[conversationID]
	if !ok || len(c.messages) == 0 {
		return nil, ErrNotFound
	}
	last := m.withSender(c.messages[len(c.messages)-1])
	return &last, nil
}

func (m *Memory) MarkConversationRead(ctx context.Context, conversationID, readerID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return 0, nil
	}
	var n int64
	now := m.tick()
	for i := range c.messages {
		if c.messages[i].SenderID != readerID && !c.messages[i].IsRead {
			c.messages[i].IsRead = true
			c.messages[i].UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *Memory) UnreadCounts(ctx context.Context, userID int64) ([]model.ConversationUnread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ConversationUnread
	for _, c := range m.conversations {
		if c.conv.Type != model.ConversationTypePrivate || !c.conv.Active() || !hasMember(c, userID) {
			continue
		}
		if n := unreadIn(c, userID); n > 0 {
			out = append(out, model.ConversationUnread{ConversationID: c.conv.ID, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

func (m *Memory) CreateBlock(ctx context.Context, blockerID, blockedID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := blockKey{blocker: blockerID, blocked: blockedID}
	if _, ok := m.blocks[key]; !ok {
		m.blocks[key] = m.tick()
	}
	return nil
}

func (m *Memory) DeleteBlock(ctx context.Context, blockerID, blockedID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blocks, blockKey{blocker: blockerID, blocked: blockedID})
	return nil
}

func (m *Memory) BlockExists(ctx context.Context, a, b int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ab := m.blocks[blockKey{blocker: a, blocked: b}]
	_, ba := m.blocks[blockKey{blocker: b, blocked: a}]
	return ab || ba, nil
}

func (m *Memory) CreateAccessToken(ctx context.Context, token *model.PersonalAccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTokenID++
	token.ID = m.nextTokenID
	token.CreatedAt = m.tick()
	stored := *token
	m.tokens[token.ID] = &stored
	return nil
}

func (m *Memory) GetAccessToken(ctx context.Context, id int64) (*model.PersonalAccessToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *t
	return &out, nil
}

func (m *Memory) TouchAccessToken(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	used := at
	t.LastUsedAt = &used
	return nil
}

// withSender copies msg and resolves its sender name. Callers hold m.mu.
func (m *Memory) withSender(msg model.Message) model.Message {
	if u, ok := m.users[msg.SenderID]; ok {
		msg.SenderName = u.Name
	}
	msg.Attachments = append([]model.Attachment{}, msg.Attachments...)
	return msg
}

func hasMember(c *memConversation, userID int64) bool {
	for _, mem := range c.members {
		if mem.UserID == userID {
			return true
		}
	}
	return false
}

func unreadIn(c *memConversation, userID int64) int {
	n := 0
	for _, msg := range c.messages {
		if !msg.IsRead && msg.SenderID != userID {
			n++
		}
	}
	return n
}

// tick returns a timestamp strictly after the previous one. Callers hold m.mu.
func (m *Memory) tick() time.Time {
	t := m.now()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}
