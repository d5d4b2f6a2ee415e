package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

// TokenClearer forgets a device token the provider no longer accepts.
type TokenClearer interface {
	ClearPushToken(ctx context.Context, userID int64, token string) error
}

// Worker processes push tasks.
type Worker struct {
	sender Sender
	tokens TokenClearer
	logger *logger.Logger
}

// NewWorker creates a push task handler.
func NewWorker(sender Sender, tokens TokenClearer, log *logger.Logger) *Worker {
	return &Worker{sender: sender, tokens: tokens, logger: log.Named("push")}
}

// Register binds the worker's handlers to mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.Handle(TypeMessagePush, w)
}

// ProcessTask delivers one push. Returning an error lets asynq retry; rejected
// tokens are cleared and the task completes.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p MessagePushPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		metrics.RecordPushDelivery("malformed")
		return fmt.Errorf("decode push payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	log := w.logger.With(zap.Int64("recipient_id", p.RecipientID), zap.String("message_id", p.Data["message_id"]))

	res, err := w.sender.Send(ctx, Notification{Token: p.Token, Title: p.Title, Body: p.Body, Data: p.Data})
	if err != nil {
		metrics.RecordPushDelivery("error")
		log.Warn("push send failed", zap.Error(err))
		return err
	}

	switch {
	case res.Unregistered:
		metrics.RecordPushDelivery("unregistered")
		log.Info("push token rejected, clearing", zap.String("reason", res.Error))
		if err := w.tokens.ClearPushToken(ctx, p.RecipientID, p.Token); err != nil {
			log.Error("clear push token failed", zap.Error(err))
			return err
		}
	case res.Error != "":
		metrics.RecordPushDelivery("rejected")
		return fmt.Errorf("push rejected: %s", res.Error)
	default:
		metrics.RecordPushDelivery("ok")
		log.Debug("push delivered", zap.String("provider_id", res.MessageID))
	}
	return nil
}

// ServerConfig configures the push worker server.
type ServerConfig struct {
	RedisURL    string
	Queue       string
	Concurrency int
}

// NewServer creates an asynq server consuming the push queue.
func NewServer(cfg ServerConfig, log *logger.Logger) (*asynq.Server, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}

	log = log.Named("asynq")
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		Logger:      log.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Warn("task failed",
				zap.String("type", task.Type()),
				zap.Int("retry", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err),
			)
		}),
	}), nil
}
