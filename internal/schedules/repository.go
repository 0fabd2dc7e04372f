package schedules

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/counselhub/counselhub/internal/mappings"
	"github.com/counselhub/counselhub/internal/platform/db"
	"github.com/counselhub/counselhub/internal/shared"
)

// Repository persists schedules.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Schedule, int, error)
	Get(ctx context.Context, id int64) (Schedule, error)
	OpenBookings(ctx context.Context, mappingID int64) (int, error)
	Busy(ctx context.Context, consultantID int64, from, to time.Time) ([]Interval, error)
	Create(ctx context.Context, s Schedule) (Schedule, error)
	Reschedule(ctx context.Context, s Schedule, version int) (Schedule, error)
	Transition(ctx context.Context, s Schedule, version int, actorID int64) (Schedule, error)
	DueReminders(ctx context.Context, from, to time.Time) ([]Reminder, error)
	MarkReminded(ctx context.Context, id int64, at time.Time) error
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectSchedule = `SELECT s.id, s.mapping_id, s.branch_id, s.consultant_id, co.name, s.client_id, cl.name, s.starts_at, s.ends_at,
s.status, s.notes, s.cancel_reason, s.consumed_session, s.reminded_at, s.version, s.created_by, s.created_at, s.updated_at
FROM schedules s JOIN users co ON co.id = s.consultant_id JOIN users cl ON cl.id = s.client_id`

const occupying = `('BOOKED','CONFIRMED','COMPLETED','NO_SHOW')`

func scanSchedule(row pgx.Row) (Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.MappingID, &s.BranchID, &s.ConsultantID, &s.ConsultantName, &s.ClientID, &s.ClientName, &s.StartsAt, &s.EndsAt,
		&s.Status, &s.Notes, &s.CancelReason, &s.ConsumedSession, &s.RemindedAt, &s.Version, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	return s, err
}

func filterFor(filter ListFilter) *db.Filter {
	f := db.NewFilter()
	if filter.BranchID != nil {
		f.Add("s.branch_id = ?", *filter.BranchID)
	}
	if filter.ConsultantID != nil {
		f.Add("s.consultant_id = ?", *filter.ConsultantID)
	}
	if filter.ClientID != nil {
		f.Add("s.client_id = ?", *filter.ClientID)
	}
	if filter.MappingID != nil {
		f.Add("s.mapping_id = ?", *filter.MappingID)
	}
	if filter.Status != "" {
		f.Add("s.status = ?", filter.Status)
	}
	if filter.From != nil {
		f.Add("s.starts_at >= ?", *filter.From)
	}
	if filter.To != nil {
		f.Add("s.starts_at < ?", *filter.To)
	}
	return f
}

// List returns a page of schedules ordered by start time.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Schedule, int, error) {
	f := filterFor(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM schedules s`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, selectSchedule+f.Where()+` ORDER BY s.starts_at`+f.Page(filter.Page.Limit(), filter.Page.Offset()), f.Args()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// Get loads a schedule.
func (r *PGRepository) Get(ctx context.Context, id int64) (Schedule, error) {
	return scanSchedule(r.pool.QueryRow(ctx, selectSchedule+` WHERE s.id = $1`, id))
}

// OpenBookings counts BOOKED and CONFIRMED schedules of a mapping.
func (r *PGRepository) OpenBookings(ctx context.Context, mappingID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM schedules WHERE mapping_id = $1 AND status IN ('BOOKED','CONFIRMED')`, mappingID).Scan(&n)
	return n, err
}

// Busy lists occupied intervals of a consultant overlapping [from, to).
func (r *PGRepository) Busy(ctx context.Context, consultantID int64, from, to time.Time) ([]Interval, error) {
	rows, err := r.pool.Query(ctx, `SELECT starts_at, ends_at FROM schedules
WHERE consultant_id = $1 AND status IN `+occupying+` AND starts_at < $3 AND ends_at > $2 ORDER BY starts_at`, consultantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Interval
	for rows.Next() {
		var iv Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// lockParticipants serialises bookings touching the same consultant or client
// until the transaction ends.
func lockParticipants(ctx context.Context, tx pgx.Tx, s Schedule) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('schedule-user'), id::int)
FROM unnest(ARRAY[$1::bigint, $2::bigint]) AS id ORDER BY id`, s.ConsultantID, s.ClientID)
	return err
}

func hasOverlap(ctx context.Context, q db.Querier, s Schedule) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schedules
WHERE id <> $1 AND (consultant_id = $2 OR client_id = $3) AND status IN `+occupying+` AND starts_at < $5 AND ends_at > $4)`,
		s.ID, s.ConsultantID, s.ClientID, s.StartsAt, s.EndsAt).Scan(&exists)
	return exists, err
}

// bookable returns the sessions of an ACTIVE mapping not yet used or held by
// an open booking. The mapping row stays locked until the transaction ends.
func bookable(ctx context.Context, tx pgx.Tx, mappingID int64) (int, error) {
	var free int
	err := tx.QueryRow(ctx, `SELECT m.total_sessions - m.used_sessions -
    (SELECT COUNT(*) FROM schedules s WHERE s.mapping_id = m.id AND s.status IN ('BOOKED','CONFIRMED'))
FROM mappings m WHERE m.id = $1 AND m.status = 'ACTIVE' FOR UPDATE OF m`, mappingID).Scan(&free)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrMappingNotActive
	}
	return free, err
}

// Create inserts a schedule unless it overlaps another one of the same
// consultant or client, or its mapping has no session left to hold.
func (r *PGRepository) Create(ctx context.Context, s Schedule) (Schedule, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockParticipants(ctx, tx, s); err != nil {
			return err
		}
		free, err := bookable(ctx, tx, s.MappingID)
		if err != nil {
			return err
		}
		if free <= 0 {
			return ErrNoSessionsLeft
		}
		overlap, err := hasOverlap(ctx, tx, s)
		if err != nil {
			return err
		}
		if overlap {
			return ErrOverlap
		}
		return tx.QueryRow(ctx, `INSERT INTO schedules (mapping_id, branch_id, consultant_id, client_id, starts_at, ends_at, status, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			s.MappingID, s.BranchID, s.ConsultantID, s.ClientID, s.StartsAt, s.EndsAt, s.Status, s.Notes, s.CreatedBy).Scan(&id)
	})
	if err != nil {
		return Schedule{}, err
	}
	return r.Get(ctx, id)
}

// Reschedule moves a schedule when version matches and the new time is free.
func (r *PGRepository) Reschedule(ctx context.Context, s Schedule, version int) (Schedule, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockParticipants(ctx, tx, s); err != nil {
			return err
		}
		overlap, err := hasOverlap(ctx, tx, s)
		if err != nil {
			return err
		}
		if overlap {
			return ErrOverlap
		}
		tag, err := tx.Exec(ctx, `UPDATE schedules SET starts_at = $3, ends_at = $4, notes = $5, reminded_at = NULL,
version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $2`, s.ID, version, s.StartsAt, s.EndsAt, s.Notes)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrConflict
		}
		return nil
	})
	if err != nil {
		return Schedule{}, err
	}
	return r.Get(ctx, s.ID)
}

// Transition stores a status change. When s.ConsumedSession is set the mapping
// balance is charged in the same transaction.
func (r *PGRepository) Transition(ctx context.Context, s Schedule, version int, actorID int64) (Schedule, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE schedules SET status = $3, cancel_reason = $4, consumed_session = $5,
version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $2`, s.ID, version, s.Status, s.CancelReason, s.ConsumedSession)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrConflict
		}
		if s.ConsumedSession {
			return mappings.ConsumeSession(ctx, tx, s.MappingID, s.ID, actorID)
		}
		return nil
	})
	if err != nil {
		return Schedule{}, err
	}
	return r.Get(ctx, s.ID)
}

// DueReminders lists open schedules starting in [from, to) that were not reminded yet.
func (r *PGRepository) DueReminders(ctx context.Context, from, to time.Time) ([]Reminder, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, cl.name, cl.phone, co.name, s.starts_at
FROM schedules s JOIN users co ON co.id = s.consultant_id JOIN users cl ON cl.id = s.client_id
WHERE s.status IN ('BOOKED','CONFIRMED') AND s.reminded_at IS NULL AND s.starts_at >= $1 AND s.starts_at < $2
ORDER BY s.starts_at`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		var rm Reminder
		if err := rows.Scan(&rm.ScheduleID, &rm.ClientName, &rm.ClientPhone, &rm.ConsultantName, &rm.StartsAt); err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

// MarkReminded stamps the reminder time.
func (r *PGRepository) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE schedules SET reminded_at = $2 WHERE id = $1`, id, at)
	return err
}

var _ Repository = (*PGRepository)(nil)
