package service

import (
	"context"
	"errors"
	"strings"

	"github.com/capitalize-ai/messaging-platform/internal/apperror"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

const maxPushTokenLength = 4096

// DeviceService manages a user's registered push token.
type DeviceService struct {
	store store.Store
}

// NewDeviceService creates a device service.
func NewDeviceService(s store.Store) *DeviceService {
	return &DeviceService{store: s}
}

// RegisterPushToken replaces the user's push token.
func (s *DeviceService) RegisterPushToken(ctx context.Context, userID int64, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperror.NewValidation("token is required")
	}
	if len(token) > maxPushTokenLength {
		return apperror.NewValidation("token is too long")
	}

	err := s.store.SetPushToken(ctx, userID, token)
	if errors.Is(err, store.ErrNotFound) {
		return apperror.NewNotFound("user not found")
	}
	if err != nil {
		return apperror.Wrap(apperror.Internal, "failed to save push token", err)
	}
	return nil
}

// ClearPushToken forgets the user's push token.
func (s *DeviceService) ClearPushToken(ctx context.Context, userID int64) error {
	err := s.store.ClearPushToken(ctx, userID, "")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperror.Wrap(apperror.Internal, "failed to clear push token", err)
	}
	return nil
}
