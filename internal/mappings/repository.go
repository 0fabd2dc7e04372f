package mappings

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/discounts"
	"github.com/counselhub/counselhub/internal/platform/db"
	"github.com/counselhub/counselhub/internal/shared"
)

// Repository persists mappings and their ledger.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Mapping, int, error)
	Get(ctx context.Context, id int64) (Mapping, error)
	HasOpen(ctx context.Context, consultantID, clientID int64) (bool, error)
	Create(ctx context.Context, m Mapping) (Mapping, error)
	Save(ctx context.Context, m Mapping, version int, ev Event) (Mapping, error)
	Events(ctx context.Context, mappingID int64) ([]Event, error)
	Drifts(ctx context.Context) (int, []Drift, error)
	ApplyDrift(ctx context.Context, d Drift) error
	DueForExpiry(ctx context.Context, today time.Time) ([]Mapping, error)
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectMapping = `SELECT m.id, m.branch_id, m.consultant_id, co.name, m.client_id, cl.name, m.status, m.package_name,
m.total_sessions, m.used_sessions, m.base_amount, m.discount_id, m.discount_amount, m.final_amount, m.supply_amount, m.vat_amount,
m.start_date, m.end_date, m.paid_at, m.payment_method, m.memo, m.version, m.created_by, m.created_at, m.updated_at
FROM mappings m JOIN users co ON co.id = m.consultant_id JOIN users cl ON cl.id = m.client_id`

func scanMapping(row pgx.Row) (Mapping, error) {
	var m Mapping
	err := row.Scan(&m.ID, &m.BranchID, &m.ConsultantID, &m.ConsultantName, &m.ClientID, &m.ClientName, &m.Status, &m.PackageName,
		&m.TotalSessions, &m.UsedSessions, &m.BaseAmount, &m.DiscountID, &m.DiscountAmount, &m.FinalAmount, &m.SupplyAmount, &m.VATAmount,
		&m.StartDate, &m.EndDate, &m.PaidAt, &m.PaymentMethod, &m.Memo, &m.Version, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Mapping{}, ErrNotFound
	}
	return m, err
}

func filterFor(filter ListFilter) *db.Filter {
	f := db.NewFilter()
	if filter.BranchID != nil {
		f.Add("m.branch_id = ?", *filter.BranchID)
	}
	if filter.ConsultantID != nil {
		f.Add("m.consultant_id = ?", *filter.ConsultantID)
	}
	if filter.ClientID != nil {
		f.Add("m.client_id = ?", *filter.ClientID)
	}
	if filter.Status != "" {
		f.Add("m.status = ?", filter.Status)
	}
	return f
}

// List returns a page of mappings.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Mapping, int, error) {
	f := filterFor(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM mappings m`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, selectMapping+f.Where()+` ORDER BY m.created_at DESC`+f.Page(filter.Page.Limit(), filter.Page.Offset()), f.Args()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// Get loads a mapping.
func (r *PGRepository) Get(ctx context.Context, id int64) (Mapping, error) {
	return scanMapping(r.pool.QueryRow(ctx, selectMapping+` WHERE m.id = $1`, id))
}

// HasOpen reports whether the pair already has a non-final mapping.
func (r *PGRepository) HasOpen(ctx context.Context, consultantID, clientID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM mappings WHERE consultant_id = $1 AND client_id = $2 AND status IN ('PENDING_PAYMENT','ACTIVE','PAUSED'))`,
		consultantID, clientID).Scan(&exists)
	return exists, err
}

// Create inserts a mapping, consuming one use of its discount in the same transaction.
func (r *PGRepository) Create(ctx context.Context, m Mapping) (Mapping, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if m.DiscountID != nil {
			if err := discounts.IncrementUsage(ctx, tx, *m.DiscountID); err != nil {
				return err
			}
		}
		err := tx.QueryRow(ctx, `INSERT INTO mappings (branch_id, consultant_id, client_id, status, package_name, total_sessions, used_sessions,
base_amount, discount_id, discount_amount, final_amount, supply_amount, vat_amount, memo, created_by)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`,
			m.BranchID, m.ConsultantID, m.ClientID, m.Status, m.PackageName, m.TotalSessions,
			m.BaseAmount, m.DiscountID, m.DiscountAmount, m.FinalAmount, m.SupplyAmount, m.VATAmount, m.Memo, m.CreatedBy).Scan(&id)
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, Event{MappingID: id, Kind: EventCreated, ToStatus: m.Status, Delta: m.TotalSessions, ActorID: m.CreatedBy})
	})
	if err != nil {
		return Mapping{}, err
	}
	return r.Get(ctx, id)
}

// Save stores mutable fields when version matches and appends ev to the ledger.
func (r *PGRepository) Save(ctx context.Context, m Mapping, version int, ev Event) (Mapping, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE mappings SET status = $3, total_sessions = $4, start_date = $5, end_date = $6, paid_at = $7,
payment_method = $8, memo = $9, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $2`,
			m.ID, version, m.Status, m.TotalSessions, m.StartDate, m.EndDate, m.PaidAt, m.PaymentMethod, m.Memo)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrConflict
		}
		ev.MappingID = m.ID
		return insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return Mapping{}, err
	}
	return r.Get(ctx, m.ID)
}

// Events lists the ledger of a mapping in order.
func (r *PGRepository) Events(ctx context.Context, mappingID int64) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, mapping_id, kind, from_status, to_status, delta, schedule_id, actor_id, note, created_at
FROM mapping_events WHERE mapping_id = $1 ORDER BY created_at, id`, mappingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.MappingID, &e.Kind, &e.FromStatus, &e.ToStatus, &e.Delta, &e.ScheduleID, &e.ActorID, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Drifts compares used_sessions with schedules that consumed a session.
func (r *PGRepository) Drifts(ctx context.Context) (int, []Drift, error) {
	rows, err := r.pool.Query(ctx, `SELECT m.id, m.used_sessions, m.total_sessions,
       COALESCE((SELECT COUNT(*) FROM schedules s WHERE s.mapping_id = m.id AND s.consumed_session), 0)::int AS actual
FROM mappings m WHERE m.status IN ('ACTIVE','PAUSED','COMPLETED')`)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()
	var (
		checked int
		drifts  []Drift
	)
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.MappingID, &d.Recorded, &d.Total, &d.Actual); err != nil {
			return 0, nil, err
		}
		checked++
		if d.Recorded != d.Actual {
			drifts = append(drifts, d)
		}
	}
	return checked, drifts, rows.Err()
}

// ApplyDrift sets used_sessions to the recomputed value, clamped to total.
func (r *PGRepository) ApplyDrift(ctx context.Context, d Drift) error {
	actual := d.Actual
	if actual > d.Total {
		actual = d.Total
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE mappings SET used_sessions = $2, updated_at = NOW() WHERE id = $1 AND used_sessions = $3`,
			d.MappingID, actual, d.Recorded)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrConflict
		}
		kind := EventRestore
		if actual > d.Recorded {
			kind = EventConsume
		}
		// Ledger deltas are balance changes: giving sessions back is positive.
		return insertEvent(ctx, tx, Event{MappingID: d.MappingID, Kind: kind, Delta: d.Recorded - actual, Note: "회기 사용 내역 동기화"})
	})
}

// DueForExpiry lists active mappings whose end date passed.
func (r *PGRepository) DueForExpiry(ctx context.Context, today time.Time) ([]Mapping, error) {
	rows, err := r.pool.Query(ctx, selectMapping+` WHERE m.status = 'ACTIVE' AND m.end_date < $1 ORDER BY m.id`, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func insertEvent(ctx context.Context, q db.Querier, ev Event) error {
	_, err := q.Exec(ctx, `INSERT INTO mapping_events (mapping_id, kind, from_status, to_status, delta, schedule_id, actor_id, note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, ev.MappingID, ev.Kind, ev.FromStatus, ev.ToStatus, ev.Delta, ev.ScheduleID, ev.ActorID, ev.Note)
	return err
}

// ConsumeSession uses one session of a mapping inside q. ACTIVE and PAUSED
// mappings complete when their balance reaches zero.
func ConsumeSession(ctx context.Context, q db.Querier, mappingID, scheduleID, actorID int64) error {
	var from, to string
	err := q.QueryRow(ctx, `WITH cur AS (
    SELECT id, status FROM mappings WHERE id = $1 FOR UPDATE
)
UPDATE mappings m SET used_sessions = m.used_sessions + 1,
    status = CASE WHEN m.used_sessions + 1 >= m.total_sessions AND m.status IN ('ACTIVE', 'PAUSED') THEN 'COMPLETED' ELSE m.status END,
    version = m.version + 1, updated_at = NOW()
FROM cur
WHERE m.id = cur.id AND m.status IN ('ACTIVE', 'PAUSED', 'COMPLETED') AND m.used_sessions < m.total_sessions
RETURNING cur.status, m.status`, mappingID).Scan(&from, &to)
	if errors.Is(err, pgx.ErrNoRows) {
		return consumeRefusal(ctx, q, mappingID)
	}
	if err != nil {
		return err
	}
	sid := scheduleID
	if err := insertEvent(ctx, q, Event{MappingID: mappingID, Kind: EventConsume, Delta: -1, ScheduleID: &sid, ActorID: actorID}); err != nil {
		return err
	}
	if to != from {
		return insertEvent(ctx, q, Event{MappingID: mappingID, Kind: EventStatus, FromStatus: from, ToStatus: to, ActorID: actorID, Note: "회기 소진"})
	}
	return nil
}

func consumeRefusal(ctx context.Context, q db.Querier, mappingID int64) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM mappings WHERE id = $1`, mappingID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !CanConsume(status) {
		return ErrClosed
	}
	return ErrNoSessionsLeft
}

var _ Repository = (*PGRepository)(nil)
