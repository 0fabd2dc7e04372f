package schedules

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/counselhub/counselhub/internal/mappings"
	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/sysconfig"
)

// MappingReader loads the mapping a schedule draws sessions from.
type MappingReader interface {
	Get(ctx context.Context, id int64) (mappings.Mapping, error)
}

// Texter sends reminder messages.
type Texter interface {
	SendSMS(ctx context.Context, phone, text string) error
}

// Service implements scheduling rules.
type Service struct {
	repo     Repository
	mappings MappingReader
	settings sysconfig.Reader
	texter   Texter
	audit    shared.AuditRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, mappings MappingReader, settings sysconfig.Reader, texter Texter, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, mappings: mappings, settings: settings, texter: texter, audit: audit, logger: logger, now: time.Now}
}

func canSee(p *shared.Principal, s Schedule) bool {
	switch {
	case p == nil:
		return false
	case p.Role == shared.RoleClient:
		return s.ClientID == p.UserID
	case p.Role == shared.RoleConsultant:
		return s.ConsultantID == p.UserID
	default:
		return p.CanAccessBranch(s.BranchID)
	}
}

func canManage(p *shared.Principal, s Schedule) bool {
	if p == nil || p.Role == shared.RoleClient {
		return false
	}
	return canSee(p, s)
}

// List returns schedules visible to the principal.
func (s *Service) List(ctx context.Context, p *shared.Principal, filter ListFilter) (shared.PagedResult[Schedule], error) {
	switch p.Role {
	case shared.RoleClient:
		filter.ClientID = &p.UserID
	case shared.RoleConsultant:
		filter.ConsultantID = &p.UserID
	default:
		filter.BranchID = p.ScopeBranch(filter.BranchID)
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return shared.PagedResult[Schedule]{}, err
	}
	return shared.NewPagedResult(items, filter.Page, total), nil
}

// Get loads a schedule visible to the principal.
func (s *Service) Get(ctx context.Context, p *shared.Principal, id int64) (Schedule, error) {
	sc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Schedule{}, err
	}
	if !canSee(p, sc) {
		return Schedule{}, ErrNotFound
	}
	return sc, nil
}

func (s *Service) hours(ctx context.Context) Hours {
	h := Hours{Open: 9 * 60, Close: 21 * 60}
	if v, err := sysconfig.ParseClock(s.settings.String(ctx, sysconfig.KeyBusinessOpen, "09:00")); err == nil {
		h.Open = v
	}
	if v, err := sysconfig.ParseClock(s.settings.String(ctx, sysconfig.KeyBusinessClose, "21:00")); err == nil {
		h.Close = v
	}
	return h
}

func (s *Service) interval(ctx context.Context, start time.Time, minutes int) (Interval, error) {
	if minutes <= 0 {
		minutes = s.settings.Int(ctx, sysconfig.KeySlotMinutes, 50)
	}
	iv := Interval{Start: start.Truncate(time.Minute), End: start.Truncate(time.Minute).Add(time.Duration(minutes) * time.Minute)}
	if iv.Start.Before(s.now()) {
		return Interval{}, ErrInPast
	}
	if !s.hours(ctx).Contains(iv) {
		return Interval{}, ErrOutsideHours
	}
	return iv, nil
}

// Book reserves a session on an ACTIVE mapping.
func (s *Service) Book(ctx context.Context, p *shared.Principal, in BookInput) (Schedule, error) {
	m, err := s.mappings.Get(ctx, in.MappingID)
	if err != nil {
		return Schedule{}, err
	}
	if !mappings.CanSee(p, m) {
		return Schedule{}, mappings.ErrNotFound
	}
	if m.Status != mappings.StatusActive {
		return Schedule{}, ErrMappingNotActive
	}
	iv, err := s.interval(ctx, in.StartsAt, in.Minutes)
	if err != nil {
		return Schedule{}, err
	}
	if m.EndDate != nil && !iv.Start.Before(m.EndDate.AddDate(0, 0, 1)) {
		return Schedule{}, ErrMappingExpired
	}
	open, err := s.repo.OpenBookings(ctx, m.ID)
	if err != nil {
		return Schedule{}, err
	}
	if m.Remaining()-open <= 0 {
		return Schedule{}, ErrNoSessionsLeft
	}
	created, err := s.repo.Create(ctx, Schedule{
		MappingID:    m.ID,
		BranchID:     m.BranchID,
		ConsultantID: m.ConsultantID,
		ClientID:     m.ClientID,
		StartsAt:     iv.Start,
		EndsAt:       iv.End,
		Status:       StatusBooked,
		Notes:        strings.TrimSpace(in.Notes),
		CreatedBy:    p.UserID,
	})
	if err != nil {
		return Schedule{}, err
	}
	s.record(ctx, p.UserID, "SCHEDULE_BOOK", created.ID, map[string]any{"mapping_id": m.ID, "starts_at": created.StartsAt})
	return created, nil
}

// Reschedule moves an open schedule. Clients must respect the cancellation deadline.
func (s *Service) Reschedule(ctx context.Context, p *shared.Principal, id int64, in RescheduleInput) (Schedule, error) {
	sc, err := s.Get(ctx, p, id)
	if err != nil {
		return Schedule{}, err
	}
	if !IsOpen(sc.Status) {
		return Schedule{}, ErrInvalidTransition
	}
	if err := s.checkDeadline(ctx, p, sc); err != nil {
		return Schedule{}, err
	}
	iv, err := s.interval(ctx, in.StartsAt, in.Minutes)
	if err != nil {
		return Schedule{}, err
	}
	from := sc.StartsAt
	sc.StartsAt, sc.EndsAt = iv.Start, iv.End
	if in.Notes != nil {
		sc.Notes = strings.TrimSpace(*in.Notes)
	}
	saved, err := s.repo.Reschedule(ctx, sc, in.Version)
	if err != nil {
		return Schedule{}, err
	}
	s.record(ctx, p.UserID, "SCHEDULE_RESCHEDULE", id, map[string]any{"from": from, "to": saved.StartsAt})
	return saved, nil
}

func (s *Service) checkDeadline(ctx context.Context, p *shared.Principal, sc Schedule) error {
	if p.Role != shared.RoleClient {
		return nil
	}
	deadline := s.settings.Duration(ctx, sysconfig.KeyCancelDeadline, 24*time.Hour)
	if sc.StartsAt.Sub(s.now()) < deadline {
		return ErrCancelDeadline
	}
	return nil
}

// Confirm accepts a booking.
func (s *Service) Confirm(ctx context.Context, p *shared.Principal, id int64, in ActionInput) (Schedule, error) {
	return s.transition(ctx, p, id, StatusConfirmed, in, "SCHEDULE_CONFIRM")
}

// Complete closes a held session and charges the mapping.
func (s *Service) Complete(ctx context.Context, p *shared.Principal, id int64, in ActionInput) (Schedule, error) {
	return s.transition(ctx, p, id, StatusCompleted, in, "SCHEDULE_COMPLETE")
}

// NoShow records an absent client. The session is charged when configured.
func (s *Service) NoShow(ctx context.Context, p *shared.Principal, id int64, in ActionInput) (Schedule, error) {
	return s.transition(ctx, p, id, StatusNoShow, in, "SCHEDULE_NO_SHOW")
}

// Cancel releases an open schedule. Clients may cancel only their own bookings
// and only before the deadline.
func (s *Service) Cancel(ctx context.Context, p *shared.Principal, id int64, in ActionInput) (Schedule, error) {
	sc, err := s.Get(ctx, p, id)
	if err != nil {
		return Schedule{}, err
	}
	if !CanTransition(sc.Status, StatusCancelled) {
		return Schedule{}, ErrInvalidTransition
	}
	if err := s.checkDeadline(ctx, p, sc); err != nil {
		return Schedule{}, err
	}
	sc.Status = StatusCancelled
	sc.CancelReason = strings.TrimSpace(in.Reason)
	saved, err := s.repo.Transition(ctx, sc, in.Version, p.UserID)
	if err != nil {
		return Schedule{}, err
	}
	s.record(ctx, p.UserID, "SCHEDULE_CANCEL", id, map[string]any{"reason": sc.CancelReason})
	return saved, nil
}

func (s *Service) transition(ctx context.Context, p *shared.Principal, id int64, to string, in ActionInput, action string) (Schedule, error) {
	sc, err := s.Get(ctx, p, id)
	if err != nil {
		return Schedule{}, err
	}
	if !canManage(p, sc) {
		return Schedule{}, shared.ErrForbidden
	}
	if !CanTransition(sc.Status, to) {
		return Schedule{}, ErrInvalidTransition
	}
	switch to {
	case StatusCompleted:
		if s.now().Before(sc.StartsAt) {
			return Schedule{}, ErrNotStarted
		}
		sc.ConsumedSession = true
	case StatusNoShow:
		if s.now().Before(sc.StartsAt) {
			return Schedule{}, ErrNotStarted
		}
		sc.ConsumedSession = s.settings.Bool(ctx, sysconfig.KeyNoShowConsumes, true)
	}
	sc.Status = to
	saved, err := s.repo.Transition(ctx, sc, in.Version, p.UserID)
	if err != nil {
		return Schedule{}, err
	}
	s.record(ctx, p.UserID, action, id, map[string]any{"consumed_session": saved.ConsumedSession})
	return saved, nil
}

// Availability returns the consultant's slots on day.
func (s *Service) Availability(ctx context.Context, p *shared.Principal, consultantID int64, day time.Time) ([]Slot, error) {
	if p.Role == shared.RoleConsultant && p.UserID != consultantID {
		return nil, shared.ErrForbidden
	}
	h := s.hours(ctx)
	open, closeAt := h.bounds(day)
	busy, err := s.repo.Busy(ctx, consultantID, open, closeAt)
	if err != nil {
		return nil, err
	}
	return GenerateSlots(day, h, s.settings.Int(ctx, sysconfig.KeySlotMinutes, 50), busy, s.now()), nil
}

// Remind texts clients about tomorrow's sessions. Each schedule is reminded once.
func (s *Service) Remind(ctx context.Context) (int, error) {
	if !s.settings.Bool(ctx, sysconfig.KeyReminderEnabled, true) || s.texter == nil {
		return 0, nil
	}
	now := s.now().In(shared.Seoul)
	from := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, shared.Seoul)
	due, err := s.repo.DueReminders(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rm := range due {
		if rm.ClientPhone == "" {
			continue
		}
		if err := s.texter.SendSMS(ctx, rm.ClientPhone, ReminderText(rm)); err != nil {
			s.logger.Warn("schedule reminder", slog.Int64("schedule_id", rm.ScheduleID), slog.Any("error", err))
			continue
		}
		if err := s.repo.MarkReminded(ctx, rm.ScheduleID, s.now()); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// ReminderText renders the reminder SMS body.
func ReminderText(rm Reminder) string {
	at := rm.StartsAt.In(shared.Seoul)
	return fmt.Sprintf("[CounselHub] %s님, 내일 %s %s 상담사와의 상담이 예정되어 있습니다.",
		rm.ClientName, at.Format("01/02 15:04"), rm.ConsultantName)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "schedule", EntityID: strconv.FormatInt(id, 10), Meta: meta}); err != nil {
		s.logger.Warn("audit schedule", slog.Any("error", err))
	}
}
