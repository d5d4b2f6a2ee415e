// Package realtime names private channels, authorizes subscriptions,
// shapes broadcast events and serves the websocket gateway.
package realtime

import (
	"fmt"
	"strconv"
	"strings"
)

// ChannelKind is the family a channel name belongs to.
type ChannelKind string

const (
	KindUser          ChannelKind = "user"
	KindConversation  ChannelKind = "conversation"
	KindNotifications ChannelKind = "message-notifications"
	KindUnknown       ChannelKind = "unknown"
)

const privatePrefix = "private-"

// NotificationsChannel is the single channel shared by every user.
const NotificationsChannel = privatePrefix + string(KindNotifications)

// Channel is a parsed channel name.
type Channel struct {
	Kind ChannelKind
	ID   int64
}

// ConversationChannel returns the broadcast channel of a conversation.
func ConversationChannel(conversationID int64) string {
	return fmt.Sprintf("%s%s.%d", privatePrefix, KindConversation, conversationID)
}

// UserChannel returns the personal channel of a user.
func UserChannel(userID int64) string {
	return fmt.Sprintf("%s%s.%d", privatePrefix, KindUser, userID)
}

// ParseChannel parses a channel name with or without the private- prefix.
// Unknown families and malformed ids are rejected.
func ParseChannel(name string) (Channel, bool) {
	name = strings.TrimPrefix(name, privatePrefix)
	if name == string(KindNotifications) {
		return Channel{Kind: KindNotifications}, true
	}

	family, param, ok := strings.Cut(name, ".")
	if !ok {
		return Channel{Kind: KindUnknown}, false
	}

	kind := ChannelKind(family)
	if kind != KindUser && kind != KindConversation {
		return Channel{Kind: KindUnknown}, false
	}

	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil || id <= 0 || strconv.FormatInt(id, 10) != param {
		return Channel{Kind: kind}, false
	}
	return Channel{Kind: kind, ID: id}, true
}
