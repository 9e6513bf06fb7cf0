package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalendae/meeting-insights/internal"
	"github.com/kalendae/meeting-insights/pkg/cache"
	"github.com/kalendae/meeting-insights/pkg/poll"
)

// Runner stages, in order. Each failure carries the stage it died in.
type Stage string

const (
	StageValidatingAssistant Stage = "validating_assistant"
	StageCreatingThread      Stage = "creating_thread"
	StagePostingMessage      Stage = "posting_message"
	StageStartingRun         Stage = "starting_run"
	StagePolling             Stage = "polling"
)

// Runner drives one insight request through the assistant protocol:
// validate assistant, create thread, post prompt, start run, poll to a
// terminal status, extract the reply text.
type Runner struct {
	client AssistantAPI
	cache  cache.Store
	poller *poll.Poller
	logger *slog.Logger
}

func NewRunner(client AssistantAPI, cacheStore cache.Store, policy poll.Policy, logger *slog.Logger) *Runner {
	return &Runner{
		client: client,
		cache:  cacheStore,
		poller: poll.New(policy),
		logger: logger,
	}
}

// NewRunnerWithPoller lets tests inject a poller with a fake sleep.
func NewRunnerWithPoller(client AssistantAPI, cacheStore cache.Store, poller *poll.Poller, logger *slog.Logger) *Runner {
	return &Runner{
		client: client,
		cache:  cacheStore,
		poller: poller,
		logger: logger,
	}
}

// Run executes the full protocol and returns the extracted insight
// text. Callers cache the result per event; the runner itself only
// caches assistant validity (per id, for the life of the process).
func (r *Runner) Run(ctx context.Context, assistantID, prompt string) (string, error) {
	if assistantID == "" {
		return "", internal.NewExternalError("no assistant configured", internal.ErrCodeInvalidAssistant)
	}

	if err := r.validateAssistant(ctx, assistantID); err != nil {
		return "", err
	}

	thread, err := r.client.CreateThread(ctx)
	if err != nil {
		r.logger.Error("thread creation failed", "assistant_id", assistantID, "error", err)
		return "", internal.NewExternalError("failed to create conversation thread", internal.ErrCodeThreadCreationFailed).WithCause(err)
	}
	r.logger.Debug("thread created", "thread_id", thread.ID, "stage", StageCreatingThread)

	if err := r.client.PostMessage(ctx, thread.ID, prompt); err != nil {
		r.logger.Error("message post failed", "thread_id", thread.ID, "error", err)
		return "", internal.NewExternalError("failed to post prompt", internal.ErrCodeMessagePostFailed).WithCause(err)
	}

	run, err := r.client.StartRun(ctx, thread.ID, assistantID)
	if err != nil {
		r.logger.Error("run start failed", "thread_id", thread.ID, "error", err)
		return "", internal.NewExternalError("failed to start assistant run", internal.ErrCodeRunStartFailed).WithCause(err)
	}
	r.logger.Debug("run started", "thread_id", thread.ID, "run_id", run.ID, "status", run.Status)

	lastStatus := run.Status
	attempts := 0

	pollErr := r.poller.Until(ctx, func(attempt int) (bool, error) {
		attempts = attempt

		current, err := r.client.GetRun(ctx, thread.ID, run.ID)
		if err != nil {
			// Transient poll failures burn an attempt but do not end
			// the run; the attempt ceiling bounds the damage.
			r.logger.Warn("run status check failed", "run_id", run.ID, "attempt", attempt, "error", err)
			return false, nil
		}
		lastStatus = current.Status

		switch current.Status {
		case RunStatusCompleted:
			return true, nil
		case RunStatusFailed, RunStatusCancelled, RunStatusExpired:
			message := current.Status
			if current.LastError != nil && current.LastError.Message != "" {
				message = current.LastError.Message
			}
			return false, internal.NewExternalError(
				fmt.Sprintf("assistant run %s: %s", current.Status, message),
				internal.ErrCodeRunFailed,
			).WithDetails(map[string]any{
				"status":   current.Status,
				"attempts": attempt,
			})
		default:
			return false, nil
		}
	})

	if pollErr != nil {
		var exhausted *poll.ExhaustedError
		if errors.As(pollErr, &exhausted) {
			r.logger.Warn("run polling exhausted", "run_id", run.ID, "attempts", exhausted.Attempts, "last_status", lastStatus)
			return "", internal.NewTimeoutError(
				fmt.Sprintf("assistant run still %s after %d status checks", lastStatus, exhausted.Attempts),
				internal.ErrCodeRunTimeout,
			).WithDetails(map[string]any{
				"attempts":    exhausted.Attempts,
				"last_status": lastStatus,
			})
		}
		return "", pollErr
	}

	text, err := r.extractReply(ctx, thread.ID)
	if err != nil {
		return "", err
	}

	r.logger.Info("insight generated", "thread_id", thread.ID, "run_id", run.ID, "poll_attempts", attempts)
	return text, nil
}

// validateAssistant confirms the assistant id exists, remembering valid
// ids for the life of the process so repeat calls skip the round trip.
func (r *Runner) validateAssistant(ctx context.Context, assistantID string) error {
	key := cache.AssistantKey(assistantID)
	if _, ok := r.cache.Get(ctx, key); ok {
		return nil
	}

	assistant, err := r.client.GetAssistant(ctx, assistantID)
	if err != nil {
		r.logger.Error("assistant validation failed", "assistant_id", assistantID, "stage", StageValidatingAssistant, "error", err)
		return internal.NewExternalError("assistant not found or not accessible", internal.ErrCodeInvalidAssistant).WithCause(err)
	}

	r.cache.Set(ctx, key, assistant.ID, 0)
	return nil
}

// extractReply pulls the first content block of the newest message,
// which the assistant service lists first.
func (r *Runner) extractReply(ctx context.Context, threadID string) (string, error) {
	messages, err := r.client.ListMessages(ctx, threadID)
	if err != nil {
		return "", internal.NewExternalError("failed to fetch run result", internal.ErrCodeRunFailed).WithCause(err)
	}

	// The service lists newest first, so the reply is the first
	// message's first text block.
	if len(messages) > 0 {
		for _, block := range messages[0].Content {
			if block.Text != nil && block.Text.Value != "" {
				return block.Text.Value, nil
			}
		}
	}

	return "", internal.NewExternalError("run completed without any reply content", internal.ErrCodeRunFailed)
}
