package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fineledger/internal/audit"
	"fineledger/internal/domain"
	"fineledger/internal/evidence"
	"fineledger/internal/platform/metrics"
	"fineledger/internal/policy"
	"fineledger/internal/storage"
	dErrors "fineledger/pkg/domain-errors"
	"fineledger/pkg/platform/sentinel"
)

type fixture struct {
	svc    *Service
	ledger *storage.Ledger
	blobs  *evidence.MemoryStore
	driver domain.Driver
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := storage.NewMemoryLedger()
	blobs := evidence.NewMemoryStore()
	publisher := audit.NewPublisher(64, slog.Default())
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(ledger, policy.New(), publisher, m, blobs, slog.Default(), 30*24*time.Hour)

	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	driver := domain.Driver{
		ID:            domain.NewDriverID(),
		Name:          "Aruzhan Omarova",
		LicenseNumber: "KZ-771204",
		Email:         "aruzhan@example.kz",
		LicenseStatus: domain.LicenseActive,
		Active:        true,
		DrivingScore:  100,
	}
	require.NoError(t, ledger.Drivers.Save(context.Background(), driver))

	return &fixture{svc: svc, ledger: ledger, blobs: blobs, driver: driver, now: now}
}

// seedOffense stores an offense occurred `age` before the fixture clock and
// refreshes the driver's aggregates.
func (f *fixture) seedOffense(t *testing.T, age time.Duration, status domain.OffenseStatus) domain.Offense {
	t.Helper()
	ctx := context.Background()
	offense := domain.Offense{
		ID:         domain.NewOffenseID(),
		DriverID:   f.driver.ID,
		OfficerID:  domain.NewActorID(),
		Type:       "speeding",
		OccurredAt: f.now.Add(-age),
		FineAmount: decimal.RequireFromString("150.00"),
		Severity:   domain.SeverityModerate,
		Points:     4,
		Status:     status,
		DueDate:    f.now.Add(-age).Add(30 * 24 * time.Hour),
	}
	require.NoError(t, f.ledger.Offenses.Save(ctx, offense))

	driver, err := f.ledger.Drivers.FindByID(ctx, f.driver.ID)
	require.NoError(t, err)
	offenses, err := f.ledger.Offenses.ListByDriver(ctx, f.driver.ID)
	require.NoError(t, err)
	total := decimal.Zero
	outstanding := decimal.Zero
	score := 100
	count := 0
	for _, o := range offenses {
		if o.Status == domain.OffenseCancelled {
			continue
		}
		count++
		total = total.Add(o.FineAmount)
		if o.Outstanding() {
			outstanding = outstanding.Add(o.FineAmount)
		}
		score -= o.Points
	}
	driver.TotalOffenses = count
	driver.TotalFines = total
	driver.OutstandingFines = outstanding
	driver.DrivingScore = score
	require.NoError(t, f.ledger.Drivers.Update(ctx, driver))
	return offense
}

func (f *fixture) asDriver() domain.Actor {
	return domain.Actor{ID: domain.ActorID(f.driver.ID), Role: domain.RoleDriver}
}

func officer() domain.Actor {
	return domain.Actor{ID: domain.NewActorID(), Role: domain.RoleOfficer}
}

func admin() domain.Actor {
	return domain.Actor{ID: domain.NewActorID(), Role: domain.RoleAdmin}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	offense := f.seedOffense(t, 5*24*time.Hour, domain.OffensePendingPayment)

	appeal, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
		OffenseID:   offense.ID.String(),
		Reason:      "speed camera miscalibrated",
		Description: "the displayed speed did not match my dashcam",
		Evidence: []EvidenceUpload{{
			FileName:    "dashcam.mp4",
			ContentType: "video/mp4",
			SizeBytes:   9,
			Content:     strings.NewReader("mp4 bytes"),
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.AppealPendingReview, appeal.Status)
	assert.Equal(t, domain.PriorityMedium, appeal.Priority, "priority defaults to medium")
	assert.Equal(t, f.now.Add(reviewWindow), appeal.DueDate)
	require.Len(t, appeal.Evidence, 1)
	assert.Equal(t, "dashcam.mp4", appeal.Evidence[0].FileName)

	t.Run("offense flips under appeal", func(t *testing.T) {
		got, err := f.ledger.Offenses.FindByID(ctx, offense.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OffenseUnderAppeal, got.Status)
	})

	t.Run("second appeal on the same offense conflicts", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
			OffenseID: offense.ID.String(),
			Reason:    "second try",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func TestSubmit_WindowAndOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("appeal window expired", func(t *testing.T) {
		offense := f.seedOffense(t, 40*24*time.Hour, domain.OffensePendingPayment)
		_, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
			OffenseID: offense.ID.String(),
			Reason:    "too late but trying",
		})
		require.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "an expired window is a state conflict, not bad input")
		assert.Equal(t, "offense_id", dErrors.Load(err)[0].Field)
	})

	t.Run("paid offense cannot be appealed", func(t *testing.T) {
		offense := f.seedOffense(t, 2*24*time.Hour, domain.OffensePaid)
		_, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
			OffenseID: offense.ID.String(),
			Reason:    "already paid though",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("another driver's offense is masked", func(t *testing.T) {
		offense := f.seedOffense(t, 2*24*time.Hour, domain.OffensePendingPayment)
		stranger := domain.Actor{ID: domain.NewActorID(), Role: domain.RoleDriver}
		_, err := f.svc.Submit(ctx, stranger, SubmitInput{
			OffenseID: offense.ID.String(),
			Reason:    "not mine",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("reason is required", func(t *testing.T) {
		offense := f.seedOffense(t, 2*24*time.Hour, domain.OffensePendingPayment)
		_, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{OffenseID: offense.ID.String()})
		require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestDecide_Approved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	offense := f.seedOffense(t, 5*24*time.Hour, domain.OffensePendingPayment)

	appeal, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
		OffenseID: offense.ID.String(),
		Reason:    "wrong vehicle identified",
	})
	require.NoError(t, err)

	decided, err := f.svc.Decide(ctx, officer(), appeal.ID, DecideInput{
		Decision:      "Approved",
		ReviewerNotes: "plate mismatch confirmed",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AppealApproved, decided.Status)
	require.NotNil(t, decided.ReviewDate)

	t.Run("offense is cancelled and the score restored", func(t *testing.T) {
		got, err := f.ledger.Offenses.FindByID(ctx, offense.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OffenseCancelled, got.Status)

		driver, err := f.ledger.Drivers.FindByID(ctx, f.driver.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, driver.DrivingScore)
		assert.True(t, driver.OutstandingFines.IsZero())
		assert.Equal(t, 0, driver.TotalOffenses)
	})

	t.Run("deciding twice conflicts", func(t *testing.T) {
		_, err := f.svc.Decide(ctx, officer(), appeal.ID, DecideInput{
			Decision:      "rejected",
			ReviewerNotes: "changed my mind",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func TestDecide_RejectedAndDocumentation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("rejection reinstates pending payment", func(t *testing.T) {
		offense := f.seedOffense(t, 5*24*time.Hour, domain.OffensePendingPayment)
		appeal, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
			OffenseID: offense.ID.String(), Reason: "disputed",
		})
		require.NoError(t, err)

		_, err = f.svc.Decide(ctx, officer(), appeal.ID, DecideInput{
			Decision: "rejected", ReviewerNotes: "camera calibration certificate on file",
		})
		require.NoError(t, err)

		got, err := f.ledger.Offenses.FindByID(ctx, offense.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OffensePendingPayment, got.Status)
	})

	t.Run("rejection past the due date lands on overdue", func(t *testing.T) {
		offense := f.seedOffense(t, 29*24*time.Hour, domain.OffensePendingPayment)
		appeal, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
			OffenseID: offense.ID.String(), Reason: "disputed",
		})
		require.NoError(t, err)

		f.svc.now = func() time.Time { return f.now.Add(2 * 24 * time.Hour) } // past due date
		_, err = f.svc.Decide(ctx, officer(), appeal.ID, DecideInput{
			Decision: "rejected", ReviewerNotes: "no grounds",
		})
		require.NoError(t, err)
		f.svc.now = func() time.Time { return f.now }

		got, err := f.ledger.Offenses.FindByID(ctx, offense.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OffenseOverdue, got.Status)
	})

	t.Run("pending documentation keeps the appeal open", func(t *testing.T) {
		offense := f.seedOffense(t, 5*24*time.Hour, domain.OffensePendingPayment)
		appeal, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
			OffenseID: offense.ID.String(), Reason: "disputed",
		})
		require.NoError(t, err)

		decided, err := f.svc.Decide(ctx, officer(), appeal.ID, DecideInput{
			Decision: "pending documentation", ReviewerNotes: "need the dashcam footage",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.AppealPendingDocumentation, decided.Status)
		assert.True(t, decided.Status.Open())

		got, err := f.ledger.Offenses.FindByID(ctx, offense.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OffenseUnderAppeal, got.Status)
	})

	t.Run("reviewer notes are mandatory", func(t *testing.T) {
		offense := f.seedOffense(t, 5*24*time.Hour, domain.OffensePendingPayment)
		appeal, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
			OffenseID: offense.ID.String(), Reason: "disputed",
		})
		require.NoError(t, err)

		_, err = f.svc.Decide(ctx, officer(), appeal.ID, DecideInput{Decision: "approved"})
		require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Equal(t, "reviewer_notes", dErrors.Load(err)[0].Field)
	})

	t.Run("drivers may not decide", func(t *testing.T) {
		_, err := f.svc.Decide(ctx, f.asDriver(), domain.NewAppealID(), DecideInput{
			Decision: "approved", ReviewerNotes: "self service",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func TestResubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	offense := f.seedOffense(t, 5*24*time.Hour, domain.OffensePendingPayment)
	appeal, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
		OffenseID: offense.ID.String(), Reason: "disputed",
	})
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, officer(), appeal.ID, DecideInput{
		Decision: "pending documentation", ReviewerNotes: "need the dashcam footage",
	})
	require.NoError(t, err)

	resubmitted, err := f.svc.Resubmit(ctx, f.asDriver(), appeal.ID, ResubmitInput{
		Description: "dashcam footage attached",
		Evidence: []EvidenceUpload{{
			FileName:    "dashcam.mp4",
			ContentType: "video/mp4",
			SizeBytes:   9,
			Content:     strings.NewReader("mp4 bytes"),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AppealUnderReview, resubmitted.Status)
	assert.Equal(t, "dashcam footage attached", resubmitted.Description)
	require.Len(t, resubmitted.Evidence, 1)
	assert.Equal(t, "dashcam.mp4", resubmitted.Evidence[0].FileName)

	t.Run("offense stays under appeal", func(t *testing.T) {
		got, err := f.ledger.Offenses.FindByID(ctx, offense.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OffenseUnderAppeal, got.Status)
	})

	t.Run("resubmitting twice conflicts", func(t *testing.T) {
		_, err := f.svc.Resubmit(ctx, f.asDriver(), appeal.ID, ResubmitInput{
			Description: "anything else?",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("resubmitted appeal can be decided", func(t *testing.T) {
		decided, err := f.svc.Decide(ctx, officer(), appeal.ID, DecideInput{
			Decision: "approved", ReviewerNotes: "footage confirms the dispute",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.AppealApproved, decided.Status)
	})
}

func TestResubmit_Guards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	offense := f.seedOffense(t, 5*24*time.Hour, domain.OffensePendingPayment)
	appeal, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
		OffenseID: offense.ID.String(), Reason: "disputed",
	})
	require.NoError(t, err)

	t.Run("only appeals waiting for documentation", func(t *testing.T) {
		_, err := f.svc.Resubmit(ctx, f.asDriver(), appeal.ID, ResubmitInput{
			Description: "eager follow-up",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	_, err = f.svc.Decide(ctx, officer(), appeal.ID, DecideInput{
		Decision: "pending documentation", ReviewerNotes: "need more",
	})
	require.NoError(t, err)

	t.Run("empty resubmission is rejected", func(t *testing.T) {
		_, err := f.svc.Resubmit(ctx, f.asDriver(), appeal.ID, ResubmitInput{})
		require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Equal(t, "evidence", dErrors.Load(err)[0].Field)
	})

	t.Run("another driver is masked", func(t *testing.T) {
		stranger := domain.Actor{ID: domain.NewActorID(), Role: domain.RoleDriver}
		_, err := f.svc.Resubmit(ctx, stranger, appeal.ID, ResubmitInput{Description: "not mine"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("officers may not resubmit", func(t *testing.T) {
		_, err := f.svc.Resubmit(ctx, officer(), appeal.ID, ResubmitInput{Description: "on their behalf"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func TestAssignAndReprioritize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	offense := f.seedOffense(t, 5*24*time.Hour, domain.OffensePendingPayment)
	appeal, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
		OffenseID: offense.ID.String(), Reason: "disputed",
	})
	require.NoError(t, err)

	reviewer := domain.NewActorID()
	assigned, err := f.svc.Assign(ctx, officer(), appeal.ID, reviewer)
	require.NoError(t, err)
	assert.Equal(t, domain.AppealUnderReview, assigned.Status)
	require.NotNil(t, assigned.AssignedTo)
	assert.Equal(t, reviewer, *assigned.AssignedTo)

	t.Run("reprioritize is an admin action", func(t *testing.T) {
		_, err := f.svc.Reprioritize(ctx, officer(), appeal.ID, "high")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

		bumped, err := f.svc.Reprioritize(ctx, admin(), appeal.ID, "High")
		require.NoError(t, err)
		assert.Equal(t, domain.PriorityHigh, bumped.Priority)
	})
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	offense := f.seedOffense(t, 5*24*time.Hour, domain.OffensePendingPayment)
	_, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
		OffenseID: offense.ID.String(), Reason: "calibration, allegedly",
	})
	require.NoError(t, err)

	t.Run("csv", func(t *testing.T) {
		out, err := f.svc.Export(ctx, admin(), storage.AppealFilter{}, "csv")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(out)), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "appeal_id")
		assert.Contains(t, lines[1], "pending_review")
	})

	t.Run("unsupported formats are rejected", func(t *testing.T) {
		for _, format := range []string{"excel", "pdf"} {
			_, err := f.svc.Export(ctx, admin(), storage.AppealFilter{}, format)
			require.True(t, dErrors.HasCode(err, dErrors.CodeValidation), format)
			assert.Equal(t, "format", dErrors.Load(err)[0].Field)
		}
	})

	t.Run("officers may not export", func(t *testing.T) {
		_, err := f.svc.Export(ctx, officer(), storage.AppealFilter{}, "csv")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func TestDownloadEvidence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	offense := f.seedOffense(t, 5*24*time.Hour, domain.OffensePendingPayment)
	appeal, err := f.svc.Submit(ctx, f.asDriver(), SubmitInput{
		OffenseID: offense.ID.String(),
		Reason:    "disputed",
		Evidence: []EvidenceUpload{{
			FileName:    "photo.jpg",
			ContentType: "image/jpeg",
			SizeBytes:   4,
			Content:     strings.NewReader("jpeg"),
		}},
	})
	require.NoError(t, err)
	require.Len(t, appeal.Evidence, 1)

	blob, reader, err := f.svc.DownloadEvidence(ctx, admin(), appeal.ID, appeal.Evidence[0].ID)
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, "photo.jpg", blob.FileName)

	t.Run("unknown evidence id", func(t *testing.T) {
		_, _, err := f.svc.DownloadEvidence(ctx, admin(), appeal.ID, "missing")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("officers may not download", func(t *testing.T) {
		_, _, err := f.svc.DownloadEvidence(ctx, officer(), appeal.ID, appeal.Evidence[0].ID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

// recordingBlobs remembers the keys handed out by Put so a test can check
// what happened to them afterwards.
type recordingBlobs struct {
	evidence.BlobStore
	keys []string
}

func (r *recordingBlobs) Put(ctx context.Context, appealID, fileName, contentType string, rd io.Reader, size int64) (evidence.Blob, error) {
	blob, err := r.BlobStore.Put(ctx, appealID, fileName, contentType, rd, size)
	if err == nil {
		r.keys = append(r.keys, blob.Key)
	}
	return blob, err
}

type failingAppealStore struct {
	storage.AppealStore
}

func (failingAppealStore) Save(context.Context, domain.Appeal) error {
	return errors.New("disk full")
}

func TestSubmit_FailedWriteDiscardsEvidence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	offense := f.seedOffense(t, 5*24*time.Hour, domain.OffensePendingPayment)

	blobs := &recordingBlobs{BlobStore: f.blobs}
	publisher := audit.NewPublisher(64, slog.Default())
	svc := NewService(f.ledger, policy.New(), publisher, metrics.New(prometheus.NewRegistry()), blobs, slog.Default(), 30*24*time.Hour)
	svc.now = func() time.Time { return f.now }
	f.ledger.Appeals = failingAppealStore{f.ledger.Appeals}

	_, err := svc.Submit(ctx, f.asDriver(), SubmitInput{
		OffenseID: offense.ID.String(),
		Reason:    "disputed",
		Evidence: []EvidenceUpload{{
			FileName:    "doc.pdf",
			ContentType: "application/pdf",
			SizeBytes:   3,
			Content:     strings.NewReader("pdf"),
		}},
	})
	require.True(t, dErrors.HasCode(err, dErrors.CodeInternal))

	require.Len(t, blobs.keys, 1)
	_, _, err = f.blobs.Get(ctx, blobs.keys[0])
	assert.ErrorIs(t, err, sentinel.ErrNotFound, "staged blob is removed when the write fails")
}
