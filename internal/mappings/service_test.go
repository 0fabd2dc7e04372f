package mappings

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/counselhub/internal/discounts"
	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/sysconfig"
	"github.com/counselhub/counselhub/internal/users"
	_ "github.com/counselhub/counselhub/testing"
)

type memoryRepo struct {
	items  map[int64]Mapping
	events map[int64][]Event
	actual map[int64]int
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: map[int64]Mapping{}, events: map[int64][]Event{}, actual: map[int64]int{}}
}

func (r *memoryRepo) List(_ context.Context, f ListFilter) ([]Mapping, int, error) {
	var out []Mapping
	for _, m := range r.items {
		if f.BranchID != nil && m.BranchID != *f.BranchID {
			continue
		}
		if f.ClientID != nil && m.ClientID != *f.ClientID {
			continue
		}
		if f.ConsultantID != nil && m.ConsultantID != *f.ConsultantID {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Mapping, error) {
	m, ok := r.items[id]
	if !ok {
		return Mapping{}, ErrNotFound
	}
	return m, nil
}

func (r *memoryRepo) HasOpen(_ context.Context, consultantID, clientID int64) (bool, error) {
	for _, m := range r.items {
		if m.ConsultantID == consultantID && m.ClientID == clientID && !IsFinal(m.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) Create(_ context.Context, m Mapping) (Mapping, error) {
	r.nextID++
	m.ID = r.nextID
	m.Version = 1
	r.items[m.ID] = m
	r.events[m.ID] = append(r.events[m.ID], Event{MappingID: m.ID, Kind: EventCreated, ToStatus: m.Status, Delta: m.TotalSessions, ActorID: m.CreatedBy})
	return m, nil
}

func (r *memoryRepo) Save(_ context.Context, m Mapping, version int, ev Event) (Mapping, error) {
	cur, ok := r.items[m.ID]
	if !ok {
		return Mapping{}, ErrNotFound
	}
	if cur.Version != version {
		return Mapping{}, shared.ErrConflict
	}
	m.Version = version + 1
	r.items[m.ID] = m
	ev.MappingID = m.ID
	r.events[m.ID] = append(r.events[m.ID], ev)
	return m, nil
}

func (r *memoryRepo) Events(_ context.Context, id int64) ([]Event, error) {
	return r.events[id], nil
}

func (r *memoryRepo) Drifts(_ context.Context) (int, []Drift, error) {
	var drifts []Drift
	for id, m := range r.items {
		if actual := r.actual[id]; actual != m.UsedSessions {
			drifts = append(drifts, Drift{MappingID: id, Recorded: m.UsedSessions, Actual: actual, Total: m.TotalSessions})
		}
	}
	return len(r.items), drifts, nil
}

func (r *memoryRepo) ApplyDrift(_ context.Context, d Drift) error {
	m := r.items[d.MappingID]
	m.UsedSessions = d.Actual
	r.items[d.MappingID] = m
	return nil
}

func (r *memoryRepo) DueForExpiry(_ context.Context, today time.Time) ([]Mapping, error) {
	var out []Mapping
	for _, m := range r.items {
		if m.Status == StatusActive && m.EndDate != nil && m.EndDate.Before(today) {
			out = append(out, m)
		}
	}
	return out, nil
}

type accountBook map[int64]users.User

func (a accountBook) Get(_ context.Context, id int64) (users.User, error) {
	u, ok := a[id]
	if !ok {
		return users.User{}, shared.ErrNotFound
	}
	return u, nil
}

type flatPricer struct{}

func (flatPricer) Quote(_ context.Context, base int64, code string) (discounts.Calculation, error) {
	if code == "HALF" {
		return discounts.Calculate(base, &discounts.Discount{ID: 9, Code: code, Type: discounts.TypePercent, Value: 50, IsActive: true}, time.Now())
	}
	return discounts.Calculate(base, nil, time.Now())
}

type memoryGuard map[string]bool

func (g memoryGuard) CheckAndInsert(_ context.Context, key, _ string) error {
	if g[key] {
		return shared.ErrIdempotencyConflict
	}
	g[key] = true
	return nil
}

func (g memoryGuard) Delete(_ context.Context, key string) error {
	delete(g, key)
	return nil
}

func ptr(v int64) *int64 { return &v }

type fixture struct {
	svc   *Service
	repo  *memoryRepo
	admin *shared.Principal
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	book := accountBook{
		10: {ID: 10, Role: shared.RoleConsultant, BranchID: ptr(1), IsActive: true},
		11: {ID: 11, Role: shared.RoleConsultant, BranchID: ptr(2), IsActive: true},
		20: {ID: 20, Role: shared.RoleClient, BranchID: ptr(1), IsActive: true},
		21: {ID: 21, Role: shared.RoleClient, BranchID: ptr(1), IsActive: false},
	}
	svc := NewService(repo, book, flatPricer{}, sysconfig.Static{sysconfig.KeyMappingValidDays: "90"}, memoryGuard{}, nil, nil)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, shared.Seoul)
	svc.now = func() time.Time { return now }
	return &fixture{svc: svc, repo: repo, admin: &shared.Principal{UserID: 1, Role: shared.RoleBranchAdmin, BranchID: ptr(1)}, now: now}
}

func (f *fixture) create(t *testing.T, sessions int) View {
	t.Helper()
	v, err := f.svc.Create(context.Background(), f.admin, "", CreateInput{ConsultantID: 10, ClientID: 20, PackageName: " 기본 10회 ", TotalSessions: sessions, BaseAmount: 550000})
	require.NoError(t, err)
	return v
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusPendingPayment, StatusActive))
	assert.True(t, CanTransition(StatusPaused, StatusActive))
	assert.False(t, CanTransition(StatusCompleted, StatusActive))
	assert.False(t, CanTransition(StatusTerminated, StatusPaused))
	assert.False(t, CanTransition(StatusPendingPayment, StatusPaused))
}

func TestConsumeRules(t *testing.T) {
	assert.True(t, CanConsume(StatusActive))
	assert.True(t, CanConsume(StatusPaused))
	assert.True(t, CanConsume(StatusCompleted))
	assert.False(t, CanConsume(StatusTerminated))
	assert.False(t, CanConsume(StatusPendingPayment))

	assert.Equal(t, StatusActive, AfterConsume(StatusActive, 1, 5))
	assert.Equal(t, StatusCompleted, AfterConsume(StatusActive, 4, 5))
	assert.Equal(t, StatusCompleted, AfterConsume(StatusPaused, 4, 5))
	assert.Equal(t, StatusPaused, AfterConsume(StatusPaused, 2, 5))
	assert.Equal(t, StatusCompleted, AfterConsume(StatusCompleted, 2, 5))
}

func TestCreatePricesAndStartsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.Create(ctx, f.admin, "", CreateInput{ConsultantID: 10, ClientID: 20, PackageName: "기본", TotalSessions: 10, BaseAmount: 550000, DiscountCode: "HALF"})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, v.Status)
	assert.Equal(t, int64(1), v.BranchID)
	assert.Equal(t, int64(275000), v.FinalAmount)
	assert.Equal(t, v.FinalAmount, v.SupplyAmount+v.VATAmount)
	assert.Equal(t, 10, v.RemainingSessions)
	require.NotNil(t, v.DiscountID)

	_, err = f.svc.Create(ctx, f.admin, "", CreateInput{ConsultantID: 10, ClientID: 20, TotalSessions: 5, BaseAmount: 1000})
	assert.ErrorIs(t, err, ErrDuplicateActive)
}

func TestCreateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.admin, "", CreateInput{ConsultantID: 20, ClientID: 20, TotalSessions: 1, BaseAmount: 1})
	assert.ErrorIs(t, err, ErrConsultantRole)

	_, err = f.svc.Create(ctx, f.admin, "", CreateInput{ConsultantID: 10, ClientID: 21, TotalSessions: 1, BaseAmount: 1})
	assert.ErrorIs(t, err, ErrClientRole)

	_, err = f.svc.Create(ctx, f.admin, "", CreateInput{ConsultantID: 11, ClientID: 20, TotalSessions: 1, BaseAmount: 1})
	assert.ErrorIs(t, err, ErrBranchMismatch)

	other := &shared.Principal{UserID: 2, Role: shared.RoleBranchAdmin, BranchID: ptr(2)}
	_, err = f.svc.Create(ctx, other, "", CreateInput{ConsultantID: 10, ClientID: 20, TotalSessions: 1, BaseAmount: 1})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestCreateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreateInput{ConsultantID: 10, ClientID: 20, TotalSessions: 3, BaseAmount: 90000}

	_, err := f.svc.Create(ctx, f.admin, "req-1", in)
	require.NoError(t, err)
	// Clear the open mapping so only the key can reject the retry.
	for id, m := range f.repo.items {
		m.Status = StatusTerminated
		f.repo.items[id] = m
	}
	_, err = f.svc.Create(ctx, f.admin, "req-1", in)
	assert.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestPaymentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t, 10)
	assert.Equal(t, "기본 10회", v.PackageName)

	_, err := f.svc.Pause(ctx, f.admin, v.ID, StatusInput{Version: v.Version})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	active, err := f.svc.ConfirmPayment(ctx, f.admin, v.ID, PaymentInput{PaymentMethod: "CARD", Version: v.Version})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, active.Status)
	require.NotNil(t, active.StartDate)
	require.NotNil(t, active.EndDate)
	assert.Equal(t, "2026-03-10", active.StartDate.Format(shared.DateLayout))
	assert.Equal(t, "2026-06-08", active.EndDate.Format(shared.DateLayout))

	_, err = f.svc.ConfirmPayment(ctx, f.admin, v.ID, PaymentInput{PaymentMethod: "CARD", Version: active.Version})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Pause(ctx, f.admin, v.ID, StatusInput{Version: v.Version})
	assert.ErrorIs(t, err, shared.ErrConflict)

	paused, err := f.svc.Pause(ctx, f.admin, v.ID, StatusInput{Reason: "휴가", Version: active.Version})
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	resumed, err := f.svc.Resume(ctx, f.admin, v.ID, StatusInput{Version: paused.Version})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)

	_, err = f.svc.Terminate(ctx, f.admin, v.ID, StatusInput{Version: resumed.Version})
	assert.ErrorIs(t, err, shared.ErrValidation)

	done, err := f.svc.Terminate(ctx, f.admin, v.ID, StatusInput{Reason: "내담자 요청", Version: resumed.Version})
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, done.Status)

	_, err = f.svc.Resume(ctx, f.admin, v.ID, StatusInput{Version: done.Version})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	events, err := f.svc.History(ctx, f.admin, v.ID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, EventCreated, events[0].Kind)
	assert.Equal(t, StatusTerminated, events[4].ToStatus)
}

func TestExtend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t, 4)

	_, err := f.svc.Extend(ctx, f.admin, v.ID, ExtendInput{Sessions: 2, Version: v.Version})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	active, err := f.svc.ConfirmPayment(ctx, f.admin, v.ID, PaymentInput{PaymentMethod: "CASH", Version: v.Version})
	require.NoError(t, err)

	_, err = f.svc.Extend(ctx, f.admin, v.ID, ExtendInput{Version: active.Version})
	assert.ErrorIs(t, err, ErrEmptyExtension)

	extended, err := f.svc.Extend(ctx, f.admin, v.ID, ExtendInput{Sessions: 2, Days: 30, Version: active.Version})
	require.NoError(t, err)
	assert.Equal(t, 6, extended.TotalSessions)
	assert.Equal(t, 6, extended.RemainingSessions)
	assert.Equal(t, active.EndDate.AddDate(0, 0, 30), *extended.EndDate)

	events, _ := f.repo.Events(ctx, v.ID)
	last := events[len(events)-1]
	assert.Equal(t, EventExtend, last.Kind)
	assert.Equal(t, 2, last.Delta)
}

func TestVisibilityByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t, 4)

	client := &shared.Principal{UserID: 20, Role: shared.RoleClient, BranchID: ptr(1)}
	stranger := &shared.Principal{UserID: 99, Role: shared.RoleClient, BranchID: ptr(1)}
	consultant := &shared.Principal{UserID: 10, Role: shared.RoleConsultant, BranchID: ptr(1)}
	otherAdmin := &shared.Principal{UserID: 3, Role: shared.RoleBranchAdmin, BranchID: ptr(2)}
	hq := &shared.Principal{UserID: 4, Role: shared.RoleHQAdmin}

	_, err := f.svc.Get(ctx, client, v.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, consultant, v.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, hq, v.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, stranger, v.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Get(ctx, otherAdmin, v.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	page := shared.PageRequest{Page: 1, PerPage: 20}
	res, err := f.svc.List(ctx, stranger, ListFilter{Page: page})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	res, err = f.svc.List(ctx, otherAdmin, ListFilter{BranchID: ptr(1), Page: page})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	res, err = f.svc.List(ctx, client, ListFilter{Page: page})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
}

func TestSyncFixesDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t, 5)
	m := f.repo.items[v.ID]
	m.UsedSessions = 3
	f.repo.items[v.ID] = m
	f.repo.actual[v.ID] = 2

	report, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Fixed)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, 3, report.Drifts[0].Recorded)
	assert.Equal(t, 2, f.repo.items[v.ID].UsedSessions)

	report, err = f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Fixed)
	assert.NotNil(t, report.Drifts)
}

func TestExpireCompletesPastEndDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.create(t, 5)
	active, err := f.svc.ConfirmPayment(ctx, f.admin, v.ID, PaymentInput{PaymentMethod: "TRANSFER", Version: v.Version})
	require.NoError(t, err)

	n, err := f.svc.Expire(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	later := active.EndDate.AddDate(0, 0, 1).Add(10 * time.Hour)
	f.svc.now = func() time.Time { return later }
	n, err = f.svc.Expire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusCompleted, f.repo.items[v.ID].Status)
}
