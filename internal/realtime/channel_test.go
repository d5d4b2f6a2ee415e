package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		name string
		want Channel
		ok   bool
	}{
		{"private-user.5", Channel{Kind: KindUser, ID: 5}, true},
		{"user.5", Channel{Kind: KindUser, ID: 5}, true},
		{"private-conversation.42", Channel{Kind: KindConversation, ID: 42}, true},
		{"private-message-notifications", Channel{Kind: KindNotifications}, true},
		{"message-notifications", Channel{Kind: KindNotifications}, true},
		{"private-conversation.abc", Channel{Kind: KindConversation}, false},
		{"private-conversation.", Channel{Kind: KindConversation}, false},
		{"private-conversation.-3", Channel{Kind: KindConversation}, false},
		{"private-conversation.007", Channel{Kind: KindConversation}, false},
		{"private-room.1", Channel{Kind: KindUnknown}, false},
		{"presence-user.1", Channel{Kind: KindUnknown}, false},
		{"", Channel{Kind: KindUnknown}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseChannel(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "private-conversation.9", ConversationChannel(9))
	assert.Equal(t, "private-user.3", UserChannel(3))
	assert.Equal(t, "private-message-notifications", NotificationsChannel)
}
