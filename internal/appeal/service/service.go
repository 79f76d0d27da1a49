// Package service runs the appeal lifecycle: submission by drivers, triage
// and decisions by officers, admin overrides and exports. Deciding an appeal
// is the one operation that touches three aggregates at once (appeal,
// offense, driver), so it locks all three and applies the outcome in a
// single atomic unit.
package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"time"

	"fineledger/internal/audit"
	"fineledger/internal/calculator"
	"fineledger/internal/domain"
	"fineledger/internal/evidence"
	"fineledger/internal/platform/metrics"
	"fineledger/internal/policy"
	"fineledger/internal/storage"
	dErrors "fineledger/pkg/domain-errors"
	"fineledger/pkg/platform/sentinel"
	"fineledger/pkg/requestcontext"
)

// reviewWindow is the SLA for deciding a submitted appeal.
const reviewWindow = 14 * 24 * time.Hour

type Service struct {
	ledger    *storage.Ledger
	gate      *policy.Gate
	publisher *audit.Publisher
	metrics   *metrics.Metrics
	blobs     evidence.BlobStore
	logger    *slog.Logger

	// appealWindow is how long after the offense date a driver may appeal.
	appealWindow time.Duration
	now          func() time.Time
}

func NewService(ledger *storage.Ledger, gate *policy.Gate, publisher *audit.Publisher, m *metrics.Metrics, blobs evidence.BlobStore, logger *slog.Logger, appealWindow time.Duration) *Service {
	return &Service{
		ledger:       ledger,
		gate:         gate,
		publisher:    publisher,
		metrics:      m,
		blobs:        blobs,
		logger:       logger,
		appealWindow: appealWindow,
	}
}

// at is the operation clock: the test override when set, otherwise the
// request-scoped time pinned by the middleware.
func (s *Service) at(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return requestcontext.Now(ctx).UTC()
}

// EvidenceUpload is one file attached at submission time.
type EvidenceUpload struct {
	FileName    string
	ContentType string
	SizeBytes   int64
	Content     io.Reader
}

// SubmitInput carries a driver's appeal submission.
type SubmitInput struct {
	OffenseID   string
	Reason      string
	Description string
	Priority    string
	Evidence    []EvidenceUpload
}

// Submit opens an appeal against one offense and flips the offense to
// UnderAppeal. At most one open appeal per offense; the appeal window runs
// from the offense date.
func (s *Service) Submit(ctx context.Context, actor domain.Actor, input SubmitInput) (domain.Appeal, error) {
	verr := dErrors.New(dErrors.CodeValidation, "invalid appeal")
	offenseID, err := domain.ParseOffenseID(input.OffenseID)
	if err != nil {
		verr.Add("offense_id", "invalid offense id")
	}
	if input.Reason == "" {
		verr.Add("reason", "appeal reason is required")
	}
	priority := domain.PriorityMedium
	if input.Priority != "" {
		parsed, err := domain.ParseAppealPriority(input.Priority)
		if err != nil {
			verr.Add("priority", "unknown priority: "+input.Priority)
		} else {
			priority = parsed
		}
	}
	if len(verr.Fields) > 0 {
		return domain.Appeal{}, verr
	}

	offense, err := s.ledger.Offenses.FindByID(ctx, offenseID)
	if err != nil {
		return domain.Appeal{}, notFoundOr(err, "offense not found")
	}
	if err := s.gate.Authorize(actor, policy.ActionSubmitAppeal, policy.Owned(offense.DriverID)); err != nil {
		return domain.Appeal{}, err
	}

	release := s.ledger.Lock(storage.Scope{
		Drivers:  []domain.DriverID{offense.DriverID},
		Offenses: []domain.OffenseID{offenseID},
	})
	defer release()

	// Re-read under the lock; the status may have moved.
	offense, err = s.ledger.Offenses.FindByID(ctx, offenseID)
	if err != nil {
		return domain.Appeal{}, notFoundOr(err, "offense not found")
	}

	now := s.at(ctx)
	if now.After(offense.OccurredAt.Add(s.appealWindow)) {
		return domain.Appeal{}, dErrors.New(dErrors.CodeConflict, "appeal window expired").
			Add("offense_id", "the appeal window for this offense has expired")
	}
	if offense.Status == domain.OffenseUnderAppeal {
		return domain.Appeal{}, dErrors.New(dErrors.CodeConflict, "an appeal is already open for this offense")
	}
	if !offense.Status.Appealable() {
		return domain.Appeal{}, dErrors.New(dErrors.CodeConflict, "offense cannot be appealed in its current state").
			Add("offense_id", "offense status is "+offense.Status.String())
	}
	if _, err := s.ledger.Appeals.FindOpenByOffense(ctx, offenseID); err == nil {
		return domain.Appeal{}, dErrors.New(dErrors.CodeConflict, "an appeal is already open for this offense")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return domain.Appeal{}, dErrors.Wrap(err, dErrors.CodeInternal, "check open appeals")
	}

	appeal := domain.Appeal{
		ID:            domain.NewAppealID(),
		OffenseID:     offenseID,
		DriverID:      offense.DriverID,
		Reason:        input.Reason,
		Description:   input.Description,
		Priority:      priority,
		Status:        domain.AppealPendingReview,
		SubmittedDate: now,
		DueDate:       now.Add(reviewWindow),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	staged, err := s.storeEvidence(ctx, appeal.ID, input.Evidence, now)
	if err != nil {
		return domain.Appeal{}, err
	}
	appeal.Evidence = staged

	offense.Status = domain.OffenseUnderAppeal
	offense.UpdatedAt = now

	err = s.ledger.Atomic(ctx, func(ctx context.Context) error {
		if err := s.ledger.Appeals.Save(ctx, appeal); err != nil {
			return err
		}
		return s.ledger.Offenses.Update(ctx, offense)
	})
	if err != nil {
		s.discardEvidence(ctx, staged)
		return domain.Appeal{}, conflictOr(err, "submit appeal")
	}

	s.metrics.AppealsSubmitted.Inc()
	s.publisher.Emit(actor, audit.ActionAppealSubmitted, "appeal", appeal.ID.String(), map[string]string{
		"offense_id": offenseID.String(),
		"priority":   priority.String(),
	})
	s.logger.Info("appeal submitted", "appeal_id", appeal.ID.String(), "offense_id", offenseID.String())
	return appeal, nil
}

// storeEvidence uploads the attachments and returns their refs. On a partial
// failure the blobs already written are discarded so nothing orphans in the
// object store.
func (s *Service) storeEvidence(ctx context.Context, appealID domain.AppealID, uploads []EvidenceUpload, now time.Time) ([]domain.EvidenceRef, error) {
	var refs []domain.EvidenceRef
	for _, upload := range uploads {
		blob, err := s.blobs.Put(ctx, appealID.String(), upload.FileName, upload.ContentType, upload.Content, upload.SizeBytes)
		if err != nil {
			s.discardEvidence(ctx, refs)
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store evidence")
		}
		refs = append(refs, domain.EvidenceRef{
			ID:          blob.Key,
			FileName:    blob.FileName,
			ContentType: blob.ContentType,
			SizeBytes:   blob.SizeBytes,
			UploadedAt:  now,
		})
	}
	return refs, nil
}

// discardEvidence removes staged blobs whose appeal never made it into the
// ledger. Best effort: a leftover blob is unreachable without its ref.
func (s *Service) discardEvidence(ctx context.Context, refs []domain.EvidenceRef) {
	for _, ref := range refs {
		if err := s.blobs.Delete(ctx, ref.ID); err != nil {
			s.logger.Warn("discard staged evidence", "key", ref.ID, "error", err)
		}
	}
}

// ResubmitInput carries the driver's follow-up after a reviewer sent the
// appeal back for more documentation.
type ResubmitInput struct {
	Description string
	Evidence    []EvidenceUpload
}

// Resubmit attaches the requested documents and puts the appeal back under
// review. Only the owning driver may resubmit, and only while the appeal is
// waiting for documentation.
func (s *Service) Resubmit(ctx context.Context, actor domain.Actor, id domain.AppealID, input ResubmitInput) (domain.Appeal, error) {
	appeal, err := s.ledger.Appeals.FindByID(ctx, id)
	if err != nil {
		return domain.Appeal{}, notFoundOr(err, "appeal not found")
	}
	if err := s.gate.Authorize(actor, policy.ActionSubmitAppeal, policy.Owned(appeal.DriverID)); err != nil {
		return domain.Appeal{}, err
	}
	if len(input.Evidence) == 0 && input.Description == "" {
		return domain.Appeal{}, dErrors.New(dErrors.CodeValidation, "invalid resubmission").
			Add("evidence", "supporting documents or an updated description are required")
	}

	release := s.ledger.Lock(storage.Scope{Appeals: []domain.AppealID{id}})
	defer release()

	appeal, err = s.ledger.Appeals.FindByID(ctx, id)
	if err != nil {
		return domain.Appeal{}, notFoundOr(err, "appeal not found")
	}
	if appeal.Status != domain.AppealPendingDocumentation {
		return domain.Appeal{}, dErrors.New(dErrors.CodeConflict, "appeal is not waiting for documentation")
	}

	now := s.at(ctx)
	staged, err := s.storeEvidence(ctx, id, input.Evidence, now)
	if err != nil {
		return domain.Appeal{}, err
	}
	appeal.Evidence = append(appeal.Evidence, staged...)
	if input.Description != "" {
		appeal.Description = input.Description
	}
	appeal.Status = domain.AppealUnderReview
	appeal.UpdatedAt = now

	if err := s.ledger.Appeals.Update(ctx, appeal); err != nil {
		s.discardEvidence(ctx, staged)
		return domain.Appeal{}, conflictOr(err, "resubmit appeal")
	}
	appeal.Version++

	s.publisher.Emit(actor, audit.ActionAppealResubmitted, "appeal", id.String(), map[string]string{
		"evidence_count": strconv.Itoa(len(staged)),
	})
	s.logger.Info("appeal resubmitted", "appeal_id", id.String(), "evidence_count", len(staged))
	return appeal, nil
}

func (s *Service) Get(ctx context.Context, actor domain.Actor, id domain.AppealID) (domain.Appeal, error) {
	appeal, err := s.ledger.Appeals.FindByID(ctx, id)
	if err != nil {
		return domain.Appeal{}, notFoundOr(err, "appeal not found")
	}
	if err := s.gate.Authorize(actor, policy.ActionReadAppeal, policy.Owned(appeal.DriverID)); err != nil {
		return domain.Appeal{}, err
	}
	return appeal, nil
}

// List returns appeals matching the filter. Drivers see only their own.
func (s *Service) List(ctx context.Context, actor domain.Actor, filter storage.AppealFilter) ([]domain.Appeal, error) {
	if actor.Role == domain.RoleDriver {
		own := actor.DriverID()
		filter.DriverID = &own
	}
	target := policy.Unowned
	if filter.DriverID != nil {
		target = policy.Owned(*filter.DriverID)
	}
	if err := s.gate.Authorize(actor, policy.ActionReadAppeal, target); err != nil {
		return nil, err
	}
	appeals, err := s.ledger.Appeals.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list appeals")
	}
	return appeals, nil
}

// Assign puts an appeal on a reviewer's desk and moves it under review.
func (s *Service) Assign(ctx context.Context, actor domain.Actor, id domain.AppealID, assignee domain.ActorID) (domain.Appeal, error) {
	if err := s.gate.Authorize(actor, policy.ActionAssignAppeal, policy.Unowned); err != nil {
		return domain.Appeal{}, err
	}

	release := s.ledger.Lock(storage.Scope{Appeals: []domain.AppealID{id}})
	defer release()

	appeal, err := s.ledger.Appeals.FindByID(ctx, id)
	if err != nil {
		return domain.Appeal{}, notFoundOr(err, "appeal not found")
	}
	if appeal.Status.Terminal() {
		return domain.Appeal{}, dErrors.New(dErrors.CodeConflict, "appeal has already been decided")
	}

	appeal.AssignedTo = &assignee
	if appeal.Status == domain.AppealPendingReview {
		appeal.Status = domain.AppealUnderReview
	}
	appeal.UpdatedAt = s.at(ctx)
	if err := s.ledger.Appeals.Update(ctx, appeal); err != nil {
		return domain.Appeal{}, conflictOr(err, "assign appeal")
	}
	appeal.Version++

	s.publisher.Emit(actor, audit.ActionAppealAssigned, "appeal", id.String(), map[string]string{
		"assignee": assignee.String(),
	})
	return appeal, nil
}

// Reprioritize changes the review-queue priority. Admin override.
func (s *Service) Reprioritize(ctx context.Context, actor domain.Actor, id domain.AppealID, priority string) (domain.Appeal, error) {
	if err := s.gate.Authorize(actor, policy.ActionReassignAppeal, policy.Unowned); err != nil {
		return domain.Appeal{}, err
	}
	parsed, err := domain.ParseAppealPriority(priority)
	if err != nil {
		return domain.Appeal{}, err
	}

	release := s.ledger.Lock(storage.Scope{Appeals: []domain.AppealID{id}})
	defer release()

	appeal, err := s.ledger.Appeals.FindByID(ctx, id)
	if err != nil {
		return domain.Appeal{}, notFoundOr(err, "appeal not found")
	}
	if appeal.Status.Terminal() {
		return domain.Appeal{}, dErrors.New(dErrors.CodeConflict, "appeal has already been decided")
	}

	appeal.Priority = parsed
	appeal.UpdatedAt = s.at(ctx)
	if err := s.ledger.Appeals.Update(ctx, appeal); err != nil {
		return domain.Appeal{}, conflictOr(err, "reprioritize appeal")
	}
	appeal.Version++

	s.publisher.Emit(actor, audit.ActionAppealReprioritized, "appeal", id.String(), map[string]string{
		"priority": parsed.String(),
	})
	return appeal, nil
}

// DecideInput is the reviewer's verdict.
type DecideInput struct {
	Decision      string
	ReviewerNotes string
}

// Decide records the verdict and applies its outcome to the offense and the
// driver's aggregates in one atomic unit:
//
//	approved              -> offense cancelled, points and fine restored
//	rejected              -> offense back to pending payment (or overdue when past due)
//	pending_documentation -> appeal stays open, offense stays under appeal
func (s *Service) Decide(ctx context.Context, actor domain.Actor, id domain.AppealID, input DecideInput) (domain.Appeal, error) {
	if err := s.gate.Authorize(actor, policy.ActionDecideAppeal, policy.Unowned); err != nil {
		return domain.Appeal{}, err
	}
	decision, err := domain.ParseAppealDecision(input.Decision)
	if err != nil {
		return domain.Appeal{}, err
	}
	if input.ReviewerNotes == "" {
		return domain.Appeal{}, dErrors.New(dErrors.CodeValidation, "reviewer notes required").
			Add("reviewer_notes", "reviewer notes are required for a decision")
	}

	// Lock-free read to learn the full scope, then lock and re-read.
	appeal, err := s.ledger.Appeals.FindByID(ctx, id)
	if err != nil {
		return domain.Appeal{}, notFoundOr(err, "appeal not found")
	}

	release := s.ledger.Lock(storage.Scope{
		Drivers:  []domain.DriverID{appeal.DriverID},
		Offenses: []domain.OffenseID{appeal.OffenseID},
		Appeals:  []domain.AppealID{id},
	})
	defer release()

	appeal, err = s.ledger.Appeals.FindByID(ctx, id)
	if err != nil {
		return domain.Appeal{}, notFoundOr(err, "appeal not found")
	}
	if appeal.Status.Terminal() {
		return domain.Appeal{}, dErrors.New(dErrors.CodeConflict, "appeal has already been decided")
	}

	offense, err := s.ledger.Offenses.FindByID(ctx, appeal.OffenseID)
	if err != nil {
		return domain.Appeal{}, notFoundOr(err, "offense not found")
	}
	driver, err := s.ledger.Drivers.FindByID(ctx, appeal.DriverID)
	if err != nil {
		return domain.Appeal{}, notFoundOr(err, "driver not found")
	}

	now := s.at(ctx)
	appeal.Status = domain.AppealStatus(decision)
	appeal.ReviewNotes = input.ReviewerNotes
	appeal.ReviewDate = &now
	appeal.ReviewedBy = &actor.ID
	appeal.UpdatedAt = now

	switch decision {
	case domain.DecisionApproved:
		offense.Status = domain.OffenseCancelled
		offense.CancelReason = "appeal approved"
	case domain.DecisionRejected:
		if offense.DueDate.Before(now) {
			offense.Status = domain.OffenseOverdue
		} else {
			offense.Status = domain.OffensePendingPayment
		}
	case domain.DecisionPendingDocumentation:
		// Offense stays under appeal while the driver supplies documents.
	}
	offense.UpdatedAt = now

	err = s.ledger.Atomic(ctx, func(ctx context.Context) error {
		if err := s.ledger.Appeals.Update(ctx, appeal); err != nil {
			return err
		}
		if err := s.ledger.Offenses.Update(ctx, offense); err != nil {
			return err
		}
		offenses, err := s.ledger.Offenses.ListByDriver(ctx, driver.ID)
		if err != nil {
			return err
		}
		driver.ApplyAggregates(calculator.Aggregates(offenses))
		driver.UpdatedAt = now
		return s.ledger.Drivers.Update(ctx, driver)
	})
	if err != nil {
		return domain.Appeal{}, conflictOr(err, "decide appeal")
	}
	appeal.Version++

	s.metrics.AppealsDecided.WithLabelValues(string(decision)).Inc()
	s.publisher.Emit(actor, audit.ActionAppealDecided, "appeal", id.String(), map[string]string{
		"decision":   string(decision),
		"offense_id": appeal.OffenseID.String(),
	})
	s.logger.Info("appeal decided",
		"appeal_id", id.String(), "decision", string(decision), "offense_id", appeal.OffenseID.String())
	return appeal, nil
}

// DownloadEvidence streams one evidence file. Admin only; the caller closes
// the reader.
func (s *Service) DownloadEvidence(ctx context.Context, actor domain.Actor, appealID domain.AppealID, evidenceID string) (evidence.Blob, io.ReadCloser, error) {
	if err := s.gate.Authorize(actor, policy.ActionDownloadEvidence, policy.Unowned); err != nil {
		return evidence.Blob{}, nil, err
	}
	appeal, err := s.ledger.Appeals.FindByID(ctx, appealID)
	if err != nil {
		return evidence.Blob{}, nil, notFoundOr(err, "appeal not found")
	}

	found := false
	for _, ref := range appeal.Evidence {
		if ref.ID == evidenceID {
			found = true
			break
		}
	}
	if !found {
		return evidence.Blob{}, nil, dErrors.New(dErrors.CodeNotFound, "evidence not found")
	}

	blob, reader, err := s.blobs.Get(ctx, evidenceID)
	if err != nil {
		return evidence.Blob{}, nil, notFoundOr(err, "evidence not found")
	}
	return blob, reader, nil
}

// Export renders matching appeals in the requested format. Only CSV is
// implemented; the legacy portals advertised excel and pdf but the exports
// were produced by hand.
func (s *Service) Export(ctx context.Context, actor domain.Actor, filter storage.AppealFilter, format string) ([]byte, error) {
	if err := s.gate.Authorize(actor, policy.ActionExportAppeals, policy.Unowned); err != nil {
		return nil, err
	}
	if format != "csv" {
		return nil, dErrors.New(dErrors.CodeValidation, "unsupported export format").
			Add("format", "unsupported export format: "+format)
	}

	appeals, err := s.ledger.Appeals.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list appeals")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"appeal_id", "offense_id", "driver_id", "status", "priority", "reason", "submitted_date", "review_date", "reviewer_notes"})
	for _, a := range appeals {
		reviewDate := ""
		if a.ReviewDate != nil {
			reviewDate = a.ReviewDate.UTC().Format(time.RFC3339)
		}
		_ = w.Write([]string{
			a.ID.String(),
			a.OffenseID.String(),
			a.DriverID.String(),
			a.Status.String(),
			a.Priority.String(),
			a.Reason,
			a.SubmittedDate.UTC().Format(time.RFC3339),
			reviewDate,
			a.ReviewNotes,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "render export")
	}
	return buf.Bytes(), nil
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func conflictOr(err error, msg string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeConflict, "record was modified concurrently, retry")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
