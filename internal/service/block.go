package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/apperror"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/tracing"
)

// BlockService blocks users. A block hides the pair's conversation from both
// members until no block remains in either direction.
type BlockService struct {
	store  store.Store
	logger *logger.Logger
}

// NewBlockService creates a block service.
func NewBlockService(s store.Store, log *logger.Logger) *BlockService {
	return &BlockService{store: s, logger: log.Named("blocks")}
}

// Block records that blocker blocks blocked and hides their conversation.
func (s *BlockService) Block(ctx context.Context, blockerID, blockedID int64) (err error) {
	ctx, span := tracer.Start(ctx, "BlockService.Block")
	defer func() { tracing.End(span, err) }()

	if err := s.checkTarget(ctx, blockerID, blockedID); err != nil {
		return err
	}
	if err := s.store.CreateBlock(ctx, blockerID, blockedID); err != nil {
		return apperror.Wrap(apperror.Internal, "failed to block user", err)
	}
	if err := s.setPairStatus(ctx, blockerID, blockedID, model.ConversationHidden); err != nil {
		return err
	}

	s.logger.Info("user blocked", zap.Int64("blocker_id", blockerID), zap.Int64("blocked_id", blockedID))
	return nil
}

// Unblock removes the block and restores the conversation when neither user
// still blocks the other.
func (s *BlockService) Unblock(ctx context.Context, blockerID, blockedID int64) (err error) {
	ctx, span := tracer.Start(ctx, "BlockService.Unblock")
	defer func() { tracing.End(span, err) }()

	if err := s.checkTarget(ctx, blockerID, blockedID); err != nil {
		return err
	}
	if err := s.store.DeleteBlock(ctx, blockerID, blockedID); err != nil {
		return apperror.Wrap(apperror.Internal, "failed to unblock user", err)
	}

	stillBlocked, err := s.store.BlockExists(ctx, blockerID, blockedID)
	if err != nil {
		return apperror.Wrap(apperror.Internal, "failed to check blocks", err)
	}
	if !stillBlocked {
		if err := s.setPairStatus(ctx, blockerID, blockedID, model.ConversationActive); err != nil {
			return err
		}
	}

	s.logger.Info("user unblocked", zap.Int64("blocker_id", blockerID), zap.Int64("blocked_id", blockedID))
	return nil
}

func (s *BlockService) checkTarget(ctx context.Context, blockerID, blockedID int64) error {
	if blockerID == blockedID {
		return apperror.NewValidation("you cannot block yourself")
	}
	_, err := s.store.GetUser(ctx, blockedID)
	if errors.Is(err, store.ErrNotFound) {
		return apperror.NewNotFound("user not found")
	}
	if err != nil {
		return apperror.Wrap(apperror.Internal, "failed to load user", err)
	}
	return nil
}

func (s *BlockService) setPairStatus(ctx context.Context, a, b int64, status model.ConversationStatus) error {
	conv, err := s.store.FindPrivateConversation(ctx, a, b)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperror.Wrap(apperror.Internal, "failed to find conversation", err)
	}
	if conv.Status == status {
		return nil
	}
	if err := s.store.SetConversationStatus(ctx, conv.ID, status); err != nil {
		return apperror.Wrap(apperror.Internal, "failed to update conversation", err)
	}
	return nil
}
