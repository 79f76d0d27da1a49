package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fineledger/internal/domain"
	"fineledger/pkg/platform/sentinel"
	txcontext "fineledger/pkg/platform/tx"
)

// PostgreSQL ledger. Optimistic concurrency is enforced with a version column
// on every table: UPDATE ... WHERE id = $1 AND version = $2 touching zero
// rows means the caller lost the race.

// NewPostgresLedger wires a ledger backed by db.
func NewPostgresLedger(db *sql.DB) *Ledger {
	return &Ledger{
		Drivers:  &PostgresDriverStore{db: db},
		Offenses: &PostgresOffenseStore{db: db},
		Appeals:  &PostgresAppealStore{db: db},
		Payments: &PostgresPaymentStore{db: db},
		locks:    NewKeyedLocks(),
		runner:   sqlRunner{db: db},
	}
}

type sqlRunner struct {
	db *sql.DB
}

func (r sqlRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, r.db, fn)
}

// executor is satisfied by *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func execer(ctx context.Context, db *sql.DB) executor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return db
}

// Migrate creates the ledger schema. Idempotent; run at startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS drivers (
	id                UUID PRIMARY KEY,
	name              TEXT NOT NULL,
	license_number    TEXT NOT NULL,
	email             TEXT NOT NULL,
	phone             TEXT NOT NULL DEFAULT '',
	license_status    TEXT NOT NULL,
	active            BOOLEAN NOT NULL DEFAULT TRUE,
	total_offenses    INT NOT NULL DEFAULT 0,
	total_fines       NUMERIC(12,2) NOT NULL DEFAULT 0,
	outstanding_fines NUMERIC(12,2) NOT NULL DEFAULT 0,
	driving_score     INT NOT NULL DEFAULT 100,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	version           INT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS offenses (
	id            UUID PRIMARY KEY,
	driver_id     UUID NOT NULL REFERENCES drivers(id),
	officer_id    UUID NOT NULL,
	type          TEXT NOT NULL,
	occurred_at   TIMESTAMPTZ NOT NULL,
	location      TEXT NOT NULL DEFAULT '',
	fine_amount   NUMERIC(12,2) NOT NULL,
	evidence      TEXT[] NOT NULL DEFAULT '{}',
	severity      TEXT NOT NULL,
	points        INT NOT NULL,
	status        TEXT NOT NULL,
	due_date      TIMESTAMPTZ NOT NULL,
	cancel_reason TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	version       INT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS offenses_driver_idx ON offenses (driver_id);
CREATE INDEX IF NOT EXISTS offenses_due_idx ON offenses (status, due_date);

CREATE TABLE IF NOT EXISTS appeals (
	id             UUID PRIMARY KEY,
	offense_id     UUID NOT NULL REFERENCES offenses(id),
	driver_id      UUID NOT NULL REFERENCES drivers(id),
	reason         TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	evidence       JSONB NOT NULL DEFAULT '[]',
	priority       TEXT NOT NULL,
	status         TEXT NOT NULL,
	assigned_to    UUID,
	submitted_date TIMESTAMPTZ NOT NULL,
	due_date       TIMESTAMPTZ NOT NULL,
	review_notes   TEXT NOT NULL DEFAULT '',
	review_date    TIMESTAMPTZ,
	reviewed_by    UUID,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	version        INT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS appeals_offense_idx ON appeals (offense_id);
CREATE INDEX IF NOT EXISTS appeals_driver_idx ON appeals (driver_id);

CREATE TABLE IF NOT EXISTS payments (
	id             UUID PRIMARY KEY,
	driver_id      UUID NOT NULL REFERENCES drivers(id),
	offense_ids    TEXT[] NOT NULL,
	amount         NUMERIC(12,2) NOT NULL,
	method         TEXT NOT NULL,
	status         TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ,
	version        INT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS payments_driver_idx ON payments (driver_id);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Drivers
// ---------------------------------------------------------------------------

type PostgresDriverStore struct {
	db *sql.DB
}

const driverColumns = `id, name, license_number, email, phone, license_status, active,
	total_offenses, total_fines, outstanding_fines, driving_score,
	created_at, updated_at, version`

func (s *PostgresDriverStore) Save(ctx context.Context, d domain.Driver) error {
	if d.Version == 0 {
		d.Version = 1
	}
	_, err := execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO drivers (`+driverColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		uuid.UUID(d.ID), d.Name, d.LicenseNumber, d.Email, d.Phone,
		string(d.LicenseStatus), d.Active,
		d.TotalOffenses, d.TotalFines, d.OutstandingFines, d.DrivingScore,
		d.CreatedAt, d.UpdatedAt, d.Version,
	)
	if err != nil {
		return fmt.Errorf("insert driver: %w", err)
	}
	return nil
}

func (s *PostgresDriverStore) Update(ctx context.Context, d domain.Driver) error {
	res, err := execer(ctx, s.db).ExecContext(ctx, `
		UPDATE drivers SET
			name=$3, license_number=$4, email=$5, phone=$6, license_status=$7, active=$8,
			total_offenses=$9, total_fines=$10, outstanding_fines=$11, driving_score=$12,
			updated_at=$13, version=version+1
		WHERE id=$1 AND version=$2`,
		uuid.UUID(d.ID), d.Version,
		d.Name, d.LicenseNumber, d.Email, d.Phone, string(d.LicenseStatus), d.Active,
		d.TotalOffenses, d.TotalFines, d.OutstandingFines, d.DrivingScore,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update driver: %w", err)
	}
	return versionCheck(res)
}

func (s *PostgresDriverStore) FindByID(ctx context.Context, id domain.DriverID) (domain.Driver, error) {
	row := execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+driverColumns+` FROM drivers WHERE id=$1`, uuid.UUID(id))
	return scanDriver(row)
}

func (s *PostgresDriverStore) List(ctx context.Context) ([]domain.Driver, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx,
		`SELECT `+driverColumns+` FROM drivers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query drivers: %w", err)
	}
	defer rows.Close()

	var out []domain.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row rowScanner) (domain.Driver, error) {
	var (
		d             domain.Driver
		id            uuid.UUID
		licenseStatus string
	)
	err := row.Scan(&id, &d.Name, &d.LicenseNumber, &d.Email, &d.Phone, &licenseStatus, &d.Active,
		&d.TotalOffenses, &d.TotalFines, &d.OutstandingFines, &d.DrivingScore,
		&d.CreatedAt, &d.UpdatedAt, &d.Version)
	if err == sql.ErrNoRows {
		return domain.Driver{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Driver{}, fmt.Errorf("scan driver: %w", err)
	}
	d.ID = domain.DriverID(id)
	d.LicenseStatus = domain.LicenseStatus(licenseStatus)
	return d, nil
}

func versionCheck(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

// ---------------------------------------------------------------------------
// Offenses
// ---------------------------------------------------------------------------

type PostgresOffenseStore struct {
	db *sql.DB
}

const offenseColumns = `id, driver_id, officer_id, type, occurred_at, location, fine_amount,
	evidence, severity, points, status, due_date, cancel_reason,
	created_at, updated_at, version`

func (s *PostgresOffenseStore) Save(ctx context.Context, o domain.Offense) error {
	if o.Version == 0 {
		o.Version = 1
	}
	_, err := execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO offenses (`+offenseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		uuid.UUID(o.ID), uuid.UUID(o.DriverID), uuid.UUID(o.OfficerID),
		o.Type, o.OccurredAt, o.Location, o.FineAmount,
		pq.Array(o.Evidence), string(o.Severity), o.Points,
		string(o.Status), o.DueDate, o.CancelReason,
		o.CreatedAt, o.UpdatedAt, o.Version,
	)
	if err != nil {
		return fmt.Errorf("insert offense: %w", err)
	}
	return nil
}

func (s *PostgresOffenseStore) Update(ctx context.Context, o domain.Offense) error {
	res, err := execer(ctx, s.db).ExecContext(ctx, `
		UPDATE offenses SET
			status=$3, cancel_reason=$4, updated_at=$5, version=version+1
		WHERE id=$1 AND version=$2`,
		uuid.UUID(o.ID), o.Version,
		string(o.Status), o.CancelReason, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update offense: %w", err)
	}
	return versionCheck(res)
}

func (s *PostgresOffenseStore) FindByID(ctx context.Context, id domain.OffenseID) (domain.Offense, error) {
	row := execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+offenseColumns+` FROM offenses WHERE id=$1`, uuid.UUID(id))
	return scanOffense(row)
}

func (s *PostgresOffenseStore) ListByDriver(ctx context.Context, driverID domain.DriverID) ([]domain.Offense, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx,
		`SELECT `+offenseColumns+` FROM offenses WHERE driver_id=$1 ORDER BY occurred_at DESC`,
		uuid.UUID(driverID))
	if err != nil {
		return nil, fmt.Errorf("query offenses: %w", err)
	}
	defer rows.Close()
	return collectOffenses(rows)
}

func (s *PostgresOffenseStore) List(ctx context.Context, filter OffenseFilter) ([]domain.Offense, error) {
	query := `SELECT ` + offenseColumns + ` FROM offenses WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.DriverID != nil {
		query += ` AND driver_id=` + arg(uuid.UUID(*filter.DriverID))
	}
	if filter.Status != nil {
		query += ` AND status=` + arg(string(*filter.Status))
	}
	if filter.Type != "" {
		query += ` AND LOWER(type)=LOWER(` + arg(filter.Type) + `)`
	}

	sortCol := "occurred_at"
	switch filter.SortBy {
	case "fine_amount":
		sortCol = "fine_amount"
	case "due_date":
		sortCol = "due_date"
	}
	dir := "ASC"
	if filter.SortOrder == SortDesc || filter.SortOrder == "" {
		dir = "DESC"
	}
	query += ` ORDER BY ` + sortCol + ` ` + dir
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := execer(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query offenses: %w", err)
	}
	defer rows.Close()
	return collectOffenses(rows)
}

func (s *PostgresOffenseStore) ListDueBefore(ctx context.Context, cutoff time.Time) ([]domain.Offense, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx,
		`SELECT `+offenseColumns+` FROM offenses WHERE status=$1 AND due_date < $2 ORDER BY due_date`,
		string(domain.OffensePendingPayment), cutoff)
	if err != nil {
		return nil, fmt.Errorf("query due offenses: %w", err)
	}
	defer rows.Close()
	return collectOffenses(rows)
}

func collectOffenses(rows *sql.Rows) ([]domain.Offense, error) {
	var out []domain.Offense
	for rows.Next() {
		o, err := scanOffense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOffense(row rowScanner) (domain.Offense, error) {
	var (
		o                  domain.Offense
		id, driver, office uuid.UUID
		severity, status   string
		evidence           pq.StringArray
	)
	err := row.Scan(&id, &driver, &office, &o.Type, &o.OccurredAt, &o.Location, &o.FineAmount,
		&evidence, &severity, &o.Points, &status, &o.DueDate, &o.CancelReason,
		&o.CreatedAt, &o.UpdatedAt, &o.Version)
	if err == sql.ErrNoRows {
		return domain.Offense{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Offense{}, fmt.Errorf("scan offense: %w", err)
	}
	o.ID = domain.OffenseID(id)
	o.DriverID = domain.DriverID(driver)
	o.OfficerID = domain.ActorID(office)
	o.Evidence = []string(evidence)
	o.Severity = domain.Severity(severity)
	o.Status = domain.OffenseStatus(status)
	return o, nil
}

// ---------------------------------------------------------------------------
// Appeals
// ---------------------------------------------------------------------------

type PostgresAppealStore struct {
	db *sql.DB
}

const appealColumns = `id, offense_id, driver_id, reason, description, evidence, priority,
	status, assigned_to, submitted_date, due_date, review_notes, review_date, reviewed_by,
	created_at, updated_at, version`

func (s *PostgresAppealStore) Save(ctx context.Context, a domain.Appeal) error {
	if a.Version == 0 {
		a.Version = 1
	}
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence refs: %w", err)
	}
	_, err = execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO appeals (`+appealColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		uuid.UUID(a.ID), uuid.UUID(a.OffenseID), uuid.UUID(a.DriverID),
		a.Reason, a.Description, evidence, string(a.Priority),
		string(a.Status), actorPtr(a.AssignedTo), a.SubmittedDate, a.DueDate,
		a.ReviewNotes, a.ReviewDate, actorPtr(a.ReviewedBy),
		a.CreatedAt, a.UpdatedAt, a.Version,
	)
	if err != nil {
		return fmt.Errorf("insert appeal: %w", err)
	}
	return nil
}

func (s *PostgresAppealStore) Update(ctx context.Context, a domain.Appeal) error {
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence refs: %w", err)
	}
	res, err := execer(ctx, s.db).ExecContext(ctx, `
		UPDATE appeals SET
			evidence=$3, priority=$4, status=$5, assigned_to=$6,
			review_notes=$7, review_date=$8, reviewed_by=$9, updated_at=$10,
			version=version+1
		WHERE id=$1 AND version=$2`,
		uuid.UUID(a.ID), a.Version,
		evidence, string(a.Priority), string(a.Status), actorPtr(a.AssignedTo),
		a.ReviewNotes, a.ReviewDate, actorPtr(a.ReviewedBy), a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update appeal: %w", err)
	}
	return versionCheck(res)
}

func (s *PostgresAppealStore) FindByID(ctx context.Context, id domain.AppealID) (domain.Appeal, error) {
	row := execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+appealColumns+` FROM appeals WHERE id=$1`, uuid.UUID(id))
	return scanAppeal(row)
}

func (s *PostgresAppealStore) ListByDriver(ctx context.Context, driverID domain.DriverID) ([]domain.Appeal, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx,
		`SELECT `+appealColumns+` FROM appeals WHERE driver_id=$1 ORDER BY submitted_date DESC`,
		uuid.UUID(driverID))
	if err != nil {
		return nil, fmt.Errorf("query appeals: %w", err)
	}
	defer rows.Close()
	return collectAppeals(rows)
}

func (s *PostgresAppealStore) List(ctx context.Context, filter AppealFilter) ([]domain.Appeal, error) {
	query := `SELECT ` + appealColumns + ` FROM appeals WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.DriverID != nil {
		query += ` AND driver_id=` + arg(uuid.UUID(*filter.DriverID))
	}
	if filter.Status != nil {
		query += ` AND status=` + arg(string(*filter.Status))
	}
	if filter.Priority != nil {
		query += ` AND priority=` + arg(string(*filter.Priority))
	}
	if filter.AssignedTo != nil {
		query += ` AND assigned_to=` + arg(uuid.UUID(*filter.AssignedTo))
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		query += ` AND (reason ILIKE ` + p + ` OR description ILIKE ` + p + `)`
	}
	query += ` ORDER BY submitted_date DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := execer(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query appeals: %w", err)
	}
	defer rows.Close()
	return collectAppeals(rows)
}

func (s *PostgresAppealStore) FindOpenByOffense(ctx context.Context, offenseID domain.OffenseID) (domain.Appeal, error) {
	row := execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+appealColumns+` FROM appeals
		 WHERE offense_id=$1 AND status IN ($2,$3,$4)`,
		uuid.UUID(offenseID),
		string(domain.AppealPendingReview), string(domain.AppealUnderReview), string(domain.AppealPendingDocumentation))
	return scanAppeal(row)
}

func collectAppeals(rows *sql.Rows) ([]domain.Appeal, error) {
	var out []domain.Appeal
	for rows.Next() {
		a, err := scanAppeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAppeal(row rowScanner) (domain.Appeal, error) {
	var (
		a                      domain.Appeal
		id, offense, driver    uuid.UUID
		priority, status       string
		evidence               []byte
		assignedTo, reviewedBy *uuid.UUID
	)
	err := row.Scan(&id, &offense, &driver, &a.Reason, &a.Description, &evidence, &priority,
		&status, &assignedTo, &a.SubmittedDate, &a.DueDate,
		&a.ReviewNotes, &a.ReviewDate, &reviewedBy,
		&a.CreatedAt, &a.UpdatedAt, &a.Version)
	if err == sql.ErrNoRows {
		return domain.Appeal{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Appeal{}, fmt.Errorf("scan appeal: %w", err)
	}
	a.ID = domain.AppealID(id)
	a.OffenseID = domain.OffenseID(offense)
	a.DriverID = domain.DriverID(driver)
	a.Priority = domain.AppealPriority(priority)
	a.Status = domain.AppealStatus(status)
	if assignedTo != nil {
		actor := domain.ActorID(*assignedTo)
		a.AssignedTo = &actor
	}
	if reviewedBy != nil {
		actor := domain.ActorID(*reviewedBy)
		a.ReviewedBy = &actor
	}
	if err := json.Unmarshal(evidence, &a.Evidence); err != nil {
		return domain.Appeal{}, fmt.Errorf("unmarshal evidence refs: %w", err)
	}
	return a, nil
}

func actorPtr(id *domain.ActorID) *uuid.UUID {
	if id == nil {
		return nil
	}
	u := uuid.UUID(*id)
	return &u
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

type PostgresPaymentStore struct {
	db *sql.DB
}

const paymentColumns = `id, driver_id, offense_ids, amount, method, status, failure_reason,
	created_at, completed_at, version`

func (s *PostgresPaymentStore) Save(ctx context.Context, p domain.Payment) error {
	if p.Version == 0 {
		p.Version = 1
	}
	offenseIDs := make([]string, len(p.OffenseIDs))
	for i, id := range p.OffenseIDs {
		offenseIDs[i] = id.String()
	}
	_, err := execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		uuid.UUID(p.ID), uuid.UUID(p.DriverID), pq.Array(offenseIDs),
		p.Amount, string(p.Method), string(p.Status), p.FailureReason,
		p.CreatedAt, p.CompletedAt, p.Version,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgresPaymentStore) FindByID(ctx context.Context, id domain.PaymentID) (domain.Payment, error) {
	row := execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id=$1`, uuid.UUID(id))
	return scanPayment(row)
}

func (s *PostgresPaymentStore) ListByDriver(ctx context.Context, driverID domain.DriverID) ([]domain.Payment, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE driver_id=$1 ORDER BY created_at DESC`,
		uuid.UUID(driverID))
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (s *PostgresPaymentStore) ListByOffense(ctx context.Context, offenseID domain.OffenseID) ([]domain.Payment, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE $1 = ANY(offense_ids) ORDER BY created_at DESC`,
		offenseID.String())
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

func collectPayments(rows *sql.Rows) ([]domain.Payment, error) {
	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		p              domain.Payment
		id, driver     uuid.UUID
		offenseIDs     pq.StringArray
		method, status string
	)
	err := row.Scan(&id, &driver, &offenseIDs, &p.Amount, &method, &status, &p.FailureReason,
		&p.CreatedAt, &p.CompletedAt, &p.Version)
	if err == sql.ErrNoRows {
		return domain.Payment{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Payment{}, fmt.Errorf("scan payment: %w", err)
	}
	p.ID = domain.PaymentID(id)
	p.DriverID = domain.DriverID(driver)
	for _, raw := range offenseIDs {
		oid, err := domain.ParseOffenseID(raw)
		if err != nil {
			return domain.Payment{}, fmt.Errorf("parse stored offense id %q: %w", raw, err)
		}
		p.OffenseIDs = append(p.OffenseIDs, oid)
	}
	p.Method = domain.PaymentMethod(method)
	p.Status = domain.PaymentStatus(status)
	return p, nil
}
