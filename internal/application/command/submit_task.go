package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/submission"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
	"github.com/learnfi/learnfi-hub/internal/domain/verification"
	"github.com/learnfi/learnfi-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT TASK COMMAND
// Creates or re-submits a learner's submission and, for auto-verified tasks,
// evaluates it and awards XP in a second transaction.
// ══════════════════════════════════════════════════════════════════════════════

// AutoVerifiedReason is the ledger reason of auto-approved submissions.
const AutoVerifiedReason = "Auto-verified task completion"

// SubmitTaskCommand contains a learner's submission.
type SubmitTaskCommand struct {
	Actor   shared.Actor
	TaskID  uuid.UUID
	Payload submission.Payload
}

// Validate validates the command.
func (c SubmitTaskCommand) Validate() error {
	if c.Actor.IsZero() {
		return shared.NewDomainError("submission", "Submit", shared.ErrUnauthorized, "authentication required")
	}
	if c.TaskID == uuid.Nil {
		return shared.NewDomainError("submission", "Submit", shared.ErrInvalidID, "task id is required")
	}
	return nil
}

// SubmitTaskResult contains the submission after the command.
type SubmitTaskResult struct {
	Submission *submission.Submission

	// Created is false when an existing submission was merged.
	Created bool

	// Verdict is set when auto-verification ran.
	Verdict *verification.Verdict
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// TaskReader resolves tasks. Implemented by the task repository and by the
// read-through task cache.
type TaskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error)
}

// AutoVerifyObserver receives auto-verification outcomes for metrics.
type AutoVerifyObserver interface {
	ObserveVerdict(taskType string, outcome string)
	ObserveAutoVerifyFailure(taskType string)
}

type noopObserver struct{}

func (noopObserver) ObserveVerdict(string, string)   {}
func (noopObserver) ObserveAutoVerifyFailure(string) {}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubmitTaskHandlerConfig contains configuration for the handler.
type SubmitTaskHandlerConfig struct {
	// AutoVerifyEnabled turns auto-verification off globally when false.
	AutoVerifyEnabled bool
}

// DefaultSubmitTaskHandlerConfig returns default configuration.
func DefaultSubmitTaskHandlerConfig() SubmitTaskHandlerConfig {
	return SubmitTaskHandlerConfig{AutoVerifyEnabled: true}
}

// SubmitTaskHandler handles the SubmitTaskCommand.
type SubmitTaskHandler struct {
	tx             shared.Transactor
	tasks          TaskReader
	submissions    submission.Repository
	ledger         *XPLedger
	engine         *verification.Engine
	eventPublisher shared.EventPublisher
	observer       AutoVerifyObserver
	log            *logger.Logger

	autoVerifyEnabled bool
}

// NewSubmitTaskHandler creates a new SubmitTaskHandler.
func NewSubmitTaskHandler(
	tx shared.Transactor,
	tasks TaskReader,
	submissions submission.Repository,
	xpLedger *XPLedger,
	engine *verification.Engine,
	eventPublisher shared.EventPublisher,
	observer AutoVerifyObserver,
	log *logger.Logger,
	config SubmitTaskHandlerConfig,
) *SubmitTaskHandler {
	if observer == nil {
		observer = noopObserver{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &SubmitTaskHandler{
		tx:                tx,
		tasks:             tasks,
		submissions:       submissions,
		ledger:            xpLedger,
		engine:            engine,
		eventPublisher:    eventPublisher,
		observer:          observer,
		log:               log.With(logger.Component("submit_task")),
		autoVerifyEnabled: config.AutoVerifyEnabled,
	}
}

// Handle executes the submit command.
func (h *SubmitTaskHandler) Handle(ctx context.Context, cmd SubmitTaskCommand) (*SubmitTaskResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("submit_task: %w", err)
	}

	t, err := h.tasks.GetByID(ctx, cmd.TaskID)
	if err != nil {
		return nil, fmt.Errorf("submit_task: %w", err)
	}

	result := &SubmitTaskResult{}
	err = h.tx.WithinTx(ctx, func(ctx context.Context) error {
		sub, created, err := h.upsert(ctx, cmd)
		if err != nil {
			return err
		}
		result.Submission = sub
		result.Created = created

		event := shared.NewSubmissionSubmittedEvent(sub.ID.String(), sub.TaskID.String(), sub.UserID.String(), !created)
		shared.AfterCommit(ctx, func() { h.publish(event) })
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("submit_task: %w", err)
	}

	if !t.AutoVerify || !h.autoVerifyEnabled {
		return result, nil
	}

	verified, verdict, err := h.autoVerify(ctx, t, result.Submission.ID)
	if err != nil {
		// The submission from the first transaction stands; a reviewer picks it up.
		h.observer.ObserveAutoVerifyFailure(t.Type.String())
		h.log.Error("auto-verification transaction failed",
			logger.SubmissionID(result.Submission.ID.String()),
			logger.TaskID(t.ID.String()),
			logger.Err(err),
		)
		return result, nil
	}

	result.Submission = verified
	result.Verdict = verdict
	return result, nil
}

// upsert creates the submission or merges the payload into the existing one.
func (h *SubmitTaskHandler) upsert(ctx context.Context, cmd SubmitTaskCommand) (*submission.Submission, bool, error) {
	existing, err := h.submissions.FindByTaskAndUserForUpdate(ctx, cmd.TaskID, cmd.Actor.UserID)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		sub, err := submission.New(cmd.TaskID, cmd.Actor.UserID, cmd.Payload)
		if err != nil {
			return nil, false, err
		}
		created, err := h.submissions.Create(ctx, sub)
		if err != nil {
			return nil, false, err
		}
		if created {
			return sub, true, nil
		}

		// Lost the insert race; the winner's row is committed and can be locked.
		existing, err = h.submissions.FindByTaskAndUserForUpdate(ctx, cmd.TaskID, cmd.Actor.UserID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("submission for task %s vanished after conflicting insert", cmd.TaskID)
		}
	}

	if err := existing.Resubmit(cmd.Payload); err != nil {
		return nil, false, err
	}
	if err := h.submissions.Update(ctx, existing); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// autoVerify evaluates the submission and approves it in one transaction
// with the XP award.
func (h *SubmitTaskHandler) autoVerify(ctx context.Context, t *task.Task, submissionID uuid.UUID) (*submission.Submission, *verification.Verdict, error) {
	var (
		sub     *submission.Submission
		verdict *verification.Verdict
	)

	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := h.submissions.GetByIDForUpdate(ctx, submissionID)
		if err != nil {
			return err
		}
		sub = current
		if current.Status != submission.StatusPending {
			return nil
		}

		v := h.engine.Evaluate(current.Payload, t.Type, t.Rules)
		verdict = &v
		h.observer.ObserveVerdict(t.Type.String(), v.Outcome.String())

		if !v.Valid() {
			current.MarkAutoVerificationFailed(v.Reason)
			event := shared.NewAutoVerificationFailedEvent(
				current.ID.String(), current.TaskID.String(), current.UserID.String(),
				v.Reason, v.Outcome == verification.OutcomeEngineError,
			)
			shared.AfterCommit(ctx, func() { h.publish(event) })
			return h.submissions.Update(ctx, current)
		}

		if err := current.Approve(t.XPReward, nil, nil); err != nil {
			return err
		}
		if err := h.submissions.Update(ctx, current); err != nil {
			return err
		}
		if t.XPReward > 0 {
			reason := AutoVerifiedReason
			taskID := t.ID
			_, err := h.ledger.Award(ctx, ledger.AwardRequest{
				UserID:     current.UserID,
				Amount:     t.XPReward,
				SourceType: ledger.SourceTaskCompletion,
				SourceID:   &taskID,
				Reason:     &reason,
			})
			if err != nil {
				return err
			}
		}

		event := shared.NewSubmissionApprovedEvent(
			current.ID.String(), current.TaskID.String(), current.UserID.String(), "", t.XPReward, true,
		)
		shared.AfterCommit(ctx, func() { h.publish(event) })
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return sub, verdict, nil
}

func (h *SubmitTaskHandler) publish(event shared.Event) {
	if err := h.eventPublisher.Publish(event); err != nil {
		h.log.Warn("failed to publish event",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}
