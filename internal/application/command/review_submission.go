package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/submission"
	"github.com/learnfi/learnfi-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW SUBMISSION COMMAND
// An instructor or admin approves or rejects a submission. Approval and the
// XP award commit together.
// ══════════════════════════════════════════════════════════════════════════════

// ReviewSubmissionCommand contains the review decision.
type ReviewSubmissionCommand struct {
	Actor        shared.Actor
	SubmissionID uuid.UUID
	Status       submission.Status
	XPAwarded    int
	Feedback     *string
}

// Validate validates the command. Role is checked before the payload.
func (c ReviewSubmissionCommand) Validate() error {
	if c.Actor.IsZero() {
		return shared.NewDomainError("submission", "Review", shared.ErrUnauthorized, "authentication required")
	}
	if !c.Actor.CanReview() {
		return shared.ErrReviewerRoleRequired
	}
	if c.SubmissionID == uuid.Nil {
		return shared.NewDomainError("submission", "Review", shared.ErrInvalidID, "submission id is required")
	}
	if c.Status != submission.StatusApproved && c.Status != submission.StatusRejected {
		return shared.ErrInvalidReviewStatus
	}
	if c.XPAwarded < 0 {
		return shared.NewDomainError("submission", "Review", shared.ErrNegativeValue, "xp awarded cannot be negative")
	}
	if c.XPAwarded > shared.MaxXP {
		return shared.NewDomainError("submission", "Review", shared.ErrValidation, "xp awarded is out of range")
	}
	return nil
}

// ReviewSubmissionResult contains the reviewed submission.
type ReviewSubmissionResult struct {
	Submission *submission.Submission

	// LedgerEntry is set when XP was awarded.
	LedgerEntry *ledger.Entry
}

// ReviewSubmissionHandler handles the ReviewSubmissionCommand.
type ReviewSubmissionHandler struct {
	tx             shared.Transactor
	tasks          TaskReader
	submissions    submission.Repository
	ledger         *XPLedger
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewReviewSubmissionHandler creates a new ReviewSubmissionHandler.
func NewReviewSubmissionHandler(
	tx shared.Transactor,
	tasks TaskReader,
	submissions submission.Repository,
	xpLedger *XPLedger,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
) *ReviewSubmissionHandler {
	if log == nil {
		log = logger.Default()
	}
	return &ReviewSubmissionHandler{
		tx:             tx,
		tasks:          tasks,
		submissions:    submissions,
		ledger:         xpLedger,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("review_submission")),
	}
}

// Handle executes the review.
func (h *ReviewSubmissionHandler) Handle(ctx context.Context, cmd ReviewSubmissionCommand) (*ReviewSubmissionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("review_submission: %w", err)
	}

	result := &ReviewSubmissionResult{}
	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		sub, err := h.submissions.GetByIDForUpdate(ctx, cmd.SubmissionID)
		if err != nil {
			return err
		}
		if sub.Status == submission.StatusApproved {
			return shared.ErrSubmissionAlreadyReviewed
		}

		reviewerID := cmd.Actor.UserID
		var event shared.Event

		if cmd.Status == submission.StatusRejected {
			if err := sub.Reject(reviewerID, cmd.Feedback); err != nil {
				return err
			}
			event = shared.NewSubmissionRejectedEvent(sub.ID.String(), sub.TaskID.String(), sub.UserID.String(), reviewerID.String())
		} else {
			if err := sub.Approve(cmd.XPAwarded, &reviewerID, cmd.Feedback); err != nil {
				return err
			}
			if cmd.XPAwarded > 0 {
				entry, err := h.awardForTask(ctx, sub, cmd.XPAwarded)
				if err != nil {
					return err
				}
				result.LedgerEntry = entry
			}
			event = shared.NewSubmissionApprovedEvent(
				sub.ID.String(), sub.TaskID.String(), sub.UserID.String(), reviewerID.String(), cmd.XPAwarded, false,
			)
		}

		if err := h.submissions.Update(ctx, sub); err != nil {
			return err
		}

		result.Submission = sub
		shared.AfterCommit(ctx, func() {
			if err := h.eventPublisher.Publish(event); err != nil {
				h.log.Warn("failed to publish review event", logger.SubmissionID(sub.ID.String()), logger.Err(err))
			}
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("review_submission: %w", err)
	}

	h.log.Info("submission reviewed",
		logger.SubmissionID(result.Submission.ID.String()),
		logger.String("status", result.Submission.Status.String()),
		logger.XPAmount(result.Submission.XPAwarded),
		logger.UserID(cmd.Actor.UserID.String()),
	)

	return result, nil
}

func (h *ReviewSubmissionHandler) awardForTask(ctx context.Context, sub *submission.Submission, xp int) (*ledger.Entry, error) {
	t, err := h.tasks.GetByID(ctx, sub.TaskID)
	if err != nil {
		return nil, err
	}

	reason := "Completed task: " + t.Title
	if r := []rune(reason); len(r) > ledger.MaxReasonLength {
		reason = string(r[:ledger.MaxReasonLength])
	}
	taskID := t.ID

	return h.ledger.Award(ctx, ledger.AwardRequest{
		UserID:     sub.UserID,
		Amount:     xp,
		SourceType: ledger.SourceTaskCompletion,
		SourceID:   &taskID,
		Reason:     &reason,
	})
}
