package salary

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/platform/db"
	"github.com/counselhub/counselhub/internal/shared"
)

// Repository persists profiles, batches and records.
type Repository interface {
	GetProfile(ctx context.Context, consultantID int64) (Profile, error)
	ProfilesFor(ctx context.Context, consultantIDs []int64) (map[int64]Profile, error)
	SaveProfile(ctx context.Context, p Profile, version int) (Profile, error)

	FindBatch(ctx context.Context, period string, branchID *int64) (Batch, error)
	OverlappingBatches(ctx context.Context, period string, branchID *int64) ([]Batch, error)
	QueueBatch(ctx context.Context, period string, branchID *int64, requestedBy int64) (Batch, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, int, error)
	StartBatch(ctx context.Context, id int64, runID uuid.UUID) error
	CompleteBatch(ctx context.Context, id int64, runID uuid.UUID, records []Record) error
	FailBatch(ctx context.Context, id int64, runID uuid.UUID, reason string) error
	ApproveBatch(ctx context.Context, id, actorID int64) (Batch, error)

	WorkCounts(ctx context.Context, from, to time.Time, branchID *int64) ([]WorkCount, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, int, error)
	GetRecord(ctx context.Context, id int64) (Record, error)
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectProfile = `SELECT p.consultant_id, u.name, p.per_session_rate, p.monthly_incentive, p.tax_type, p.version, p.updated_at
FROM salary_profiles p JOIN users u ON u.id = p.consultant_id`

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ConsultantID, &p.ConsultantName, &p.PerSessionRate, &p.MonthlyIncentive, &p.TaxType, &p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	return p, err
}

// GetProfile loads the pay terms of a consultant.
func (r *PGRepository) GetProfile(ctx context.Context, consultantID int64) (Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, selectProfile+` WHERE p.consultant_id = $1`, consultantID))
}

// ProfilesFor loads profiles keyed by consultant.
func (r *PGRepository) ProfilesFor(ctx context.Context, consultantIDs []int64) (map[int64]Profile, error) {
	out := make(map[int64]Profile, len(consultantIDs))
	if len(consultantIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, selectProfile+` WHERE p.consultant_id = ANY($1)`, consultantIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out[p.ConsultantID] = p
	}
	return out, rows.Err()
}

// SaveProfile creates a profile when version is 0, otherwise updates it when version matches.
func (r *PGRepository) SaveProfile(ctx context.Context, p Profile, version int) (Profile, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if version == 0 {
		tag, err = r.pool.Exec(ctx, `INSERT INTO salary_profiles (consultant_id, per_session_rate, monthly_incentive, tax_type)
VALUES ($1, $2, $3, $4) ON CONFLICT (consultant_id) DO NOTHING`, p.ConsultantID, p.PerSessionRate, p.MonthlyIncentive, p.TaxType)
	} else {
		tag, err = r.pool.Exec(ctx, `UPDATE salary_profiles SET per_session_rate = $3, monthly_incentive = $4, tax_type = $5,
version = version + 1, updated_at = NOW() WHERE consultant_id = $1 AND version = $2`,
			p.ConsultantID, version, p.PerSessionRate, p.MonthlyIncentive, p.TaxType)
	}
	if err != nil {
		return Profile{}, err
	}
	if tag.RowsAffected() == 0 {
		return Profile{}, shared.ErrConflict
	}
	return r.GetProfile(ctx, p.ConsultantID)
}

const selectBatch = `SELECT id, run_id, period, branch_id, status, requested_by, approved_by, approved_at, error,
record_count, total_gross, total_tax, total_net, created_at, updated_at FROM salary_batches`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.RunID, &b.Period, &b.BranchID, &b.Status, &b.RequestedBy, &b.ApprovedBy, &b.ApprovedAt, &b.Error,
		&b.RecordCount, &b.TotalGross, &b.TotalTax, &b.TotalNet, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

// FindBatch loads the batch of a scope.
func (r *PGRepository) FindBatch(ctx context.Context, period string, branchID *int64) (Batch, error) {
	return scanBatch(r.pool.QueryRow(ctx, selectBatch+` WHERE period = $1 AND COALESCE(branch_id, 0) = COALESCE($2, 0)`, period, branchID))
}

// OverlappingBatches returns the batches of period whose scope intersects
// branchID without being equal to it: branch batches for an all-branch scope
// and the all-branch batch for a branch scope.
func (r *PGRepository) OverlappingBatches(ctx context.Context, period string, branchID *int64) ([]Batch, error) {
	where := ` WHERE period = $1 AND branch_id IS NOT NULL`
	if branchID != nil {
		where = ` WHERE period = $1 AND branch_id IS NULL`
	}
	rows, err := r.pool.Query(ctx, selectBatch+where+` ORDER BY id`, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// QueueBatch creates the scope's batch or resets an unapproved, idle one with a fresh run id.
func (r *PGRepository) QueueBatch(ctx context.Context, period string, branchID *int64, requestedBy int64) (Batch, error) {
	b, err := scanBatch(r.pool.QueryRow(ctx, `INSERT INTO salary_batches (run_id, period, branch_id, status, requested_by)
VALUES ($1, $2, $3, 'QUEUED', $4)
ON CONFLICT (period, COALESCE(branch_id, 0)) DO UPDATE
SET run_id = EXCLUDED.run_id, status = 'QUEUED', requested_by = EXCLUDED.requested_by, error = '', updated_at = NOW()
WHERE salary_batches.status NOT IN ('APPROVED', 'RUNNING')
RETURNING id, run_id, period, branch_id, status, requested_by, approved_by, approved_at, error,
record_count, total_gross, total_tax, total_net, created_at, updated_at`, uuid.New(), period, branchID, requestedBy))
	if errors.Is(err, ErrBatchNotFound) {
		return Batch{}, ErrBatchBusy
	}
	return b, err
}

// GetBatch loads a batch.
func (r *PGRepository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return scanBatch(r.pool.QueryRow(ctx, selectBatch+` WHERE id = $1`, id))
}

// ListBatches returns batches newest period first.
func (r *PGRepository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, int, error) {
	f := db.NewFilter()
	if filter.Period != "" {
		f.Add("period = ?", filter.Period)
	}
	if filter.BranchID != nil {
		f.Add("branch_id = ?", *filter.BranchID)
	}
	if filter.Status != "" {
		f.Add("status = ?", filter.Status)
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM salary_batches`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, selectBatch+f.Where()+` ORDER BY period DESC, id DESC`+f.Page(filter.Page.Limit(), filter.Page.Offset()), f.Args()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

// StartBatch marks the run as RUNNING when runID is still current.
func (r *PGRepository) StartBatch(ctx context.Context, id int64, runID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE salary_batches SET status = 'RUNNING', updated_at = NOW()
WHERE id = $1 AND run_id = $2 AND status IN ('QUEUED', 'FAILED', 'CALCULATED')`, id, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchBusy
	}
	return nil
}

// CompleteBatch replaces the batch records and totals in one transaction.
func (r *PGRepository) CompleteBatch(ctx context.Context, id int64, runID uuid.UUID, records []Record) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM salary_batches WHERE id = $1 AND run_id = $2 FOR UPDATE`, id, runID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBatchBusy
		}
		if err != nil {
			return err
		}
		if status != BatchRunning {
			return ErrBatchBusy
		}
		if _, err := tx.Exec(ctx, `DELETE FROM salary_records WHERE batch_id = $1`, id); err != nil {
			return err
		}
		rows := make([][]any, 0, len(records))
		var gross, tax, net int64
		for _, rec := range records {
			rows = append(rows, []any{id, rec.ConsultantID, rec.BranchID, rec.SessionCount, rec.PerSessionRate, rec.Incentive,
				rec.Gross, rec.IncomeTax, rec.LocalTax, rec.Net})
			gross += rec.Gross
			tax += rec.IncomeTax + rec.LocalTax
			net += rec.Net
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"salary_records"},
			[]string{"batch_id", "consultant_id", "branch_id", "session_count", "per_session_rate", "incentive", "gross", "income_tax", "local_tax", "net"},
			pgx.CopyFromRows(rows)); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE salary_batches SET status = 'CALCULATED', error = '', record_count = $2, total_gross = $3,
total_tax = $4, total_net = $5, updated_at = NOW() WHERE id = $1`, id, len(records), gross, tax, net)
		return err
	})
}

// FailBatch stores the failure reason of the current run.
func (r *PGRepository) FailBatch(ctx context.Context, id int64, runID uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `UPDATE salary_batches SET status = 'FAILED', error = $3, updated_at = NOW()
WHERE id = $1 AND run_id = $2 AND status <> 'APPROVED'`, id, runID, reason)
	return err
}

// ApproveBatch freezes a calculated batch.
func (r *PGRepository) ApproveBatch(ctx context.Context, id, actorID int64) (Batch, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE salary_batches SET status = 'APPROVED', approved_by = $2, approved_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'CALCULATED'`, id, actorID)
	if err != nil {
		return Batch{}, err
	}
	if tag.RowsAffected() == 0 {
		return Batch{}, ErrNotCalculated
	}
	return r.GetBatch(ctx, id)
}

// WorkCounts counts session-consuming schedules per consultant in [from, to).
// Completed sessions and charged no-shows both carry consumed_session.
func (r *PGRepository) WorkCounts(ctx context.Context, from, to time.Time, branchID *int64) ([]WorkCount, error) {
	f := db.NewFilter("consumed_session").Add("starts_at >= ?", from).Add("starts_at < ?", to)
	if branchID != nil {
		f.Add("branch_id = ?", *branchID)
	}
	rows, err := r.pool.Query(ctx, `SELECT consultant_id, MIN(branch_id), COUNT(*) FROM schedules`+f.Where()+
		` GROUP BY consultant_id ORDER BY consultant_id`, f.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorkCount
	for rows.Next() {
		var w WorkCount
		if err := rows.Scan(&w.ConsultantID, &w.BranchID, &w.Sessions); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

const selectRecord = `SELECT r.id, r.batch_id, b.period, b.status, r.consultant_id, u.name, r.branch_id, r.session_count, r.per_session_rate,
r.incentive, r.gross, r.income_tax, r.local_tax, r.net, r.created_at
FROM salary_records r JOIN salary_batches b ON b.id = r.batch_id JOIN users u ON u.id = r.consultant_id`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.BatchID, &rec.Period, &rec.BatchStatus, &rec.ConsultantID, &rec.ConsultantName, &rec.BranchID,
		&rec.SessionCount, &rec.PerSessionRate, &rec.Incentive, &rec.Gross, &rec.IncomeTax, &rec.LocalTax, &rec.Net, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

// ListRecords returns a page of salary records.
func (r *PGRepository) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, int, error) {
	f := db.NewFilter()
	if filter.BatchID != nil {
		f.Add("r.batch_id = ?", *filter.BatchID)
	}
	if filter.ConsultantID != nil {
		f.Add("r.consultant_id = ?", *filter.ConsultantID)
	}
	if filter.BranchID != nil {
		f.Add("r.branch_id = ?", *filter.BranchID)
	}
	if filter.Period != "" {
		f.Add("b.period = ?", filter.Period)
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM salary_records r JOIN salary_batches b ON b.id = r.batch_id`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, selectRecord+f.Where()+` ORDER BY b.period DESC, u.name`+f.Page(filter.Page.Limit(), filter.Page.Offset()), f.Args()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// GetRecord loads a salary record.
func (r *PGRepository) GetRecord(ctx context.Context, id int64) (Record, error) {
	return scanRecord(r.pool.QueryRow(ctx, selectRecord+` WHERE r.id = $1`, id))
}

var _ Repository = (*PGRepository)(nil)
