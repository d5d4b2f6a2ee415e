package middleware

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ParseID parses a positive numeric path parameter.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id format")
	}
	return id, nil
}

// ValidateSocketID validates a gateway socket id.
func ValidateSocketID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid socket id format")
	}
	return nil
}

// ValidateChannelName performs cheap shape checks before authorization.
func ValidateChannelName(name string) error {
	if name == "" {
		return errors.New("channel_name is required")
	}
	if len(name) > 200 || strings.ContainsAny(name, " \t\r\n") {
		return errors.New("invalid channel name")
	}
	return nil
}

// ValidateDeviceName validates the name given to a personal access token.
func ValidateDeviceName(name string) error {
	if len(name) > 255 {
		return errors.New("device name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("device name must be valid UTF-8")
	}
	return nil
}
