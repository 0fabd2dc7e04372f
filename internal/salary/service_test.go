package salary

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/sysconfig"
	"github.com/counselhub/counselhub/internal/users"
	_ "github.com/counselhub/counselhub/testing"
)

type memoryRepo struct {
	profiles map[int64]Profile
	batches  map[int64]Batch
	records  map[int64][]Record
	work     []WorkCount
	nextID   int64
	failWork error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{profiles: map[int64]Profile{}, batches: map[int64]Batch{}, records: map[int64][]Record{}}
}

func (m *memoryRepo) GetProfile(_ context.Context, id int64) (Profile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (m *memoryRepo) ProfilesFor(_ context.Context, ids []int64) (map[int64]Profile, error) {
	out := map[int64]Profile{}
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memoryRepo) SaveProfile(_ context.Context, p Profile, version int) (Profile, error) {
	cur, exists := m.profiles[p.ConsultantID]
	switch {
	case version == 0 && exists, version > 0 && (!exists || cur.Version != version):
		return Profile{}, shared.ErrConflict
	}
	p.Version = version + 1
	m.profiles[p.ConsultantID] = p
	return p, nil
}

func sameScope(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *memoryRepo) FindBatch(_ context.Context, period string, branchID *int64) (Batch, error) {
	for _, b := range m.batches {
		if b.Period == period && sameScope(b.BranchID, branchID) {
			return b, nil
		}
	}
	return Batch{}, ErrBatchNotFound
}

func (m *memoryRepo) OverlappingBatches(_ context.Context, period string, branchID *int64) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.Period == period && (b.BranchID == nil) != (branchID == nil) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) QueueBatch(ctx context.Context, period string, branchID *int64, requestedBy int64) (Batch, error) {
	b, err := m.FindBatch(ctx, period, branchID)
	if err == nil {
		if b.Status == BatchApproved || b.Status == BatchRunning {
			return Batch{}, ErrBatchBusy
		}
	} else {
		m.nextID++
		b = Batch{ID: m.nextID, Period: period, BranchID: branchID}
	}
	b.RunID = uuid.New()
	b.Status = BatchQueued
	b.RequestedBy = requestedBy
	b.Error = ""
	m.batches[b.ID] = b
	return b, nil
}

func (m *memoryRepo) GetBatch(_ context.Context, id int64) (Batch, error) {
	b, ok := m.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (m *memoryRepo) ListBatches(_ context.Context, f BatchFilter) ([]Batch, int, error) {
	var out []Batch
	for _, b := range m.batches {
		if f.BranchID != nil && !sameScope(b.BranchID, f.BranchID) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) StartBatch(_ context.Context, id int64, runID uuid.UUID) error {
	b := m.batches[id]
	if b.RunID != runID || b.Status == BatchRunning || b.Status == BatchApproved {
		return ErrBatchBusy
	}
	b.Status = BatchRunning
	m.batches[id] = b
	return nil
}

func (m *memoryRepo) CompleteBatch(_ context.Context, id int64, runID uuid.UUID, records []Record) error {
	b := m.batches[id]
	if b.RunID != runID || b.Status != BatchRunning {
		return ErrBatchBusy
	}
	b.Status = BatchCalculated
	b.RecordCount = len(records)
	b.TotalGross, b.TotalTax, b.TotalNet = 0, 0, 0
	stored := make([]Record, 0, len(records))
	for i, rec := range records {
		rec.ID = id*100 + int64(i) + 1
		rec.BatchID = id
		rec.Period = b.Period
		b.TotalGross += rec.Gross
		b.TotalTax += rec.IncomeTax + rec.LocalTax
		b.TotalNet += rec.Net
		stored = append(stored, rec)
	}
	m.records[id] = stored
	m.batches[id] = b
	return nil
}

func (m *memoryRepo) FailBatch(_ context.Context, id int64, runID uuid.UUID, reason string) error {
	b := m.batches[id]
	if b.RunID == runID && b.Status != BatchApproved {
		b.Status = BatchFailed
		b.Error = reason
		m.batches[id] = b
	}
	return nil
}

func (m *memoryRepo) ApproveBatch(_ context.Context, id, actorID int64) (Batch, error) {
	b := m.batches[id]
	if b.Status != BatchCalculated {
		return Batch{}, ErrNotCalculated
	}
	b.Status = BatchApproved
	b.ApprovedBy = &actorID
	m.batches[id] = b
	return b, nil
}

func (m *memoryRepo) WorkCounts(_ context.Context, _, _ time.Time, branchID *int64) ([]WorkCount, error) {
	if m.failWork != nil {
		return nil, m.failWork
	}
	var out []WorkCount
	for _, w := range m.work {
		if branchID != nil && !sameScope(w.BranchID, branchID) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (m *memoryRepo) all() []Record {
	var out []Record
	for id, recs := range m.records {
		for _, r := range recs {
			r.BatchStatus = m.batches[id].Status
			out = append(out, r)
		}
	}
	return out
}

func (m *memoryRepo) ListRecords(_ context.Context, f RecordFilter) ([]Record, int, error) {
	var out []Record
	for _, r := range m.all() {
		if f.ConsultantID != nil && r.ConsultantID != *f.ConsultantID {
			continue
		}
		if f.BranchID != nil && !sameScope(r.BranchID, f.BranchID) {
			continue
		}
		out = append(out, r)
	}
	return out, len(out), nil
}

func (m *memoryRepo) GetRecord(_ context.Context, id int64) (Record, error) {
	for _, r := range m.all() {
		if r.ID == id {
			return r, nil
		}
	}
	return Record{}, ErrRecordNotFound
}

type queue []int64

func (q *queue) EnqueueSalaryRun(_ context.Context, id int64) error {
	*q = append(*q, id)
	return nil
}

type approvalLog []shared.ApprovalLog

func (a *approvalLog) Record(_ context.Context, log shared.ApprovalLog) error {
	*a = append(*a, log)
	return nil
}

func (a *approvalLog) List(_ context.Context, module string, ref int64) ([]shared.ApprovalLog, error) {
	out := []shared.ApprovalLog{}
	for _, l := range *a {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type pdfRenderer struct{ last string }

func (r *pdfRenderer) RenderHTML(_ context.Context, html string) ([]byte, error) {
	r.last = html
	return []byte("%PDF-1.7"), nil
}

type accountBook map[int64]users.User

func (a accountBook) Get(_ context.Context, id int64) (users.User, error) {
	u, ok := a[id]
	if !ok {
		return users.User{}, users.ErrUserNotFound
	}
	return u, nil
}

func ptr(v int64) *int64 { return &v }

var (
	hq          = &shared.Principal{UserID: 1, Role: shared.RoleHQAdmin}
	branchAdmin = &shared.Principal{UserID: 2, Role: shared.RoleBranchAdmin, BranchID: ptr(1)}
	consultant  = &shared.Principal{UserID: 10, Role: shared.RoleConsultant, BranchID: ptr(1)}
)

type fixture struct {
	svc       *Service
	repo      *memoryRepo
	queue     *queue
	approvals *approvalLog
	renderer  *pdfRenderer
	locker    *shared.Locker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	repo.profiles[10] = Profile{ConsultantID: 10, ConsultantName: "이상담", PerSessionRate: 50000, MonthlyIncentive: 100000, TaxType: TaxBusinessIncome, Version: 1}
	repo.work = []WorkCount{
		{ConsultantID: 10, BranchID: ptr(1), Sessions: 12},
		{ConsultantID: 11, BranchID: ptr(1), Sessions: 3},
		{ConsultantID: 12, BranchID: ptr(2), Sessions: 5},
	}
	f := &fixture{repo: repo, queue: &queue{}, approvals: &approvalLog{}, renderer: &pdfRenderer{}, locker: shared.NewLocker(client)}
	f.svc = NewService(Deps{
		Repo: repo,
		Accounts: accountBook{
			10: {ID: 10, Role: shared.RoleConsultant, BranchID: ptr(1)},
			12: {ID: 12, Role: shared.RoleConsultant, BranchID: ptr(2)},
			20: {ID: 20, Role: shared.RoleClient, BranchID: ptr(1)},
		},
		Settings:  sysconfig.Static{},
		Locker:    f.locker,
		Queue:     f.queue,
		Approvals: f.approvals,
		Renderer:  f.renderer,
	})
	f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, shared.Seoul) }
	return f
}

func TestRequestQueuesBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, hq, RunInput{Period: "2026-04"})
	assert.ErrorIs(t, err, ErrFuturePeriod)
	_, err = f.svc.Request(ctx, hq, RunInput{Period: "2026-13"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	b, err := f.svc.Request(ctx, branchAdmin, RunInput{Period: "2026-02", BranchID: ptr(2)})
	require.NoError(t, err)
	assert.Equal(t, BatchQueued, b.Status)
	require.NotNil(t, b.BranchID)
	assert.Equal(t, int64(1), *b.BranchID, "branch admins are pinned to their branch")
	assert.Equal(t, []int64{b.ID}, []int64(*f.queue))
	require.Len(t, *f.approvals, 1)
	assert.Equal(t, shared.ApprovalSubmit, (*f.approvals)[0].Action)

	again, err := f.svc.Request(ctx, branchAdmin, RunInput{Period: "2026-02"})
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.ID)
	assert.NotEqual(t, b.RunID, again.RunID)
}

func TestRequestRefusesOverlappingScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	all, err := f.svc.Request(ctx, hq, RunInput{Period: "2026-02"})
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, branchAdmin, RunInput{Period: "2026-02"})
	assert.ErrorIs(t, err, ErrScopeOverlap)
	_, err = f.svc.Request(ctx, hq, RunInput{Period: "2026-02", BranchID: ptr(2)})
	assert.ErrorIs(t, err, ErrScopeOverlap)

	_, err = f.svc.Request(ctx, branchAdmin, RunInput{Period: "2026-01"})
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, hq, RunInput{Period: "2026-01"})
	assert.ErrorIs(t, err, ErrScopeOverlap)
	_, err = f.svc.Request(ctx, hq, RunInput{Period: "2026-01", BranchID: ptr(2)})
	require.NoError(t, err, "disjoint branches may run side by side")

	// A batch that slipped past the request check is refused at run time.
	f.repo.nextID++
	stray := Batch{ID: f.repo.nextID, RunID: uuid.New(), Period: "2026-02", BranchID: ptr(2), Status: BatchQueued}
	f.repo.batches[stray.ID] = stray
	_, err = f.svc.Run(ctx, stray.ID)
	assert.ErrorIs(t, err, ErrScopeOverlap)
	assert.Equal(t, BatchFailed, f.repo.batches[stray.ID].Status)

	done, err := f.svc.Run(ctx, all.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchCalculated, done.Status)
}

func TestRunCalculatesRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.Request(ctx, branchAdmin, RunInput{Period: "2026-02"})
	require.NoError(t, err)

	done, err := f.svc.Run(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchCalculated, done.Status)
	assert.Equal(t, 1, done.RecordCount, "consultants without a profile are skipped")
	assert.Equal(t, int64(700000), done.TotalGross)
	assert.Equal(t, int64(23100), done.TotalTax)
	assert.Equal(t, int64(676900), done.TotalNet)

	// The lock is released after the run.
	lock, err := f.locker.Acquire(ctx, shared.SalaryLockKey("2026-02", 1), time.Minute)
	require.NoError(t, err)
	_, err = f.svc.Run(ctx, b.ID)
	assert.ErrorIs(t, err, shared.ErrLockHeld)
	require.NoError(t, lock.Release(ctx))

	// Rerunning an unapproved batch replaces its records.
	f.repo.profiles[10] = Profile{ConsultantID: 10, PerSessionRate: 60000, TaxType: TaxNone, Version: 2}
	b, err = f.svc.Request(ctx, branchAdmin, RunInput{Period: "2026-02"})
	require.NoError(t, err)
	done, err = f.svc.Run(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(720000), done.TotalNet)
	assert.Len(t, f.repo.records[b.ID], 1)
}

func TestRunFailureMarksBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.Request(ctx, hq, RunInput{Period: "2026-02"})
	require.NoError(t, err)
	f.repo.failWork = errors.New("db down")

	_, err = f.svc.Run(ctx, b.ID)
	require.Error(t, err)
	stored := f.repo.batches[b.ID]
	assert.Equal(t, BatchFailed, stored.Status)
	assert.Equal(t, "db down", stored.Error)

	f.repo.failWork = nil
	done, err := f.svc.Run(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, done.RecordCount)
}

func TestApproveFreezesBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.Request(ctx, hq, RunInput{Period: "2026-02"})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, hq, b.ID, ApproveInput{})
	assert.ErrorIs(t, err, ErrNotCalculated)

	_, err = f.svc.Run(ctx, b.ID)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, branchAdmin, b.ID, ApproveInput{})
	assert.ErrorIs(t, err, ErrBatchNotFound, "branch admins cannot see all-branch batches")

	approved, err := f.svc.Approve(ctx, hq, b.ID, ApproveInput{Note: "2월 정산 승인"})
	require.NoError(t, err)
	assert.Equal(t, BatchApproved, approved.Status)

	_, err = f.svc.Request(ctx, hq, RunInput{Period: "2026-02"})
	assert.ErrorIs(t, err, ErrBatchApproved)
	_, err = f.svc.Run(ctx, b.ID)
	assert.ErrorIs(t, err, ErrBatchApproved)

	detail, err := f.svc.Batch(ctx, hq, b.ID)
	require.NoError(t, err)
	require.Len(t, detail.Approvals, 2)
	assert.Equal(t, shared.ApprovalApprove, detail.Approvals[1].Action)
	assert.Equal(t, "2월 정산 승인", detail.Approvals[1].Note)
}

func TestRecordsAndStatementVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.svc.Request(ctx, hq, RunInput{Period: "2026-02"})
	require.NoError(t, err)
	f.repo.profiles[12] = Profile{ConsultantID: 12, ConsultantName: "박상담", PerSessionRate: 40000, TaxType: TaxBusinessIncome, Version: 1}
	_, err = f.svc.Run(ctx, b.ID)
	require.NoError(t, err)

	page := shared.PageRequest{Page: 1, PerPage: 20}
	own, err := f.svc.Records(ctx, consultant, RecordFilter{ConsultantID: ptr(12), Page: page})
	require.NoError(t, err)
	require.Len(t, own.Items, 1)
	assert.Equal(t, int64(10), own.Items[0].ConsultantID)

	scoped, err := f.svc.Records(ctx, branchAdmin, RecordFilter{Page: page})
	require.NoError(t, err)
	assert.Len(t, scoped.Items, 1)

	all, err := f.svc.Records(ctx, hq, RecordFilter{Page: page})
	require.NoError(t, err)
	assert.Len(t, all.Items, 2)

	var mine, theirs Record
	for _, r := range all.Items {
		if r.ConsultantID == 10 {
			mine = r
		} else {
			theirs = r
		}
	}
	pdf, name, err := f.svc.Statement(ctx, consultant, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), pdf)
	assert.Equal(t, "salary-2026-02-10.pdf", name)
	assert.Contains(t, f.renderer.last, "676,900원")

	_, _, err = f.svc.Statement(ctx, consultant, theirs.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, _, err = f.svc.Statement(ctx, branchAdmin, theirs.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestProfiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Profile(ctx, consultant, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), p.PerSessionRate)
	_, err = f.svc.Profile(ctx, consultant, 12)
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.Profile(ctx, branchAdmin, 12)
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.Profile(ctx, hq, 12)
	assert.ErrorIs(t, err, ErrProfileNotFound)
	_, err = f.svc.SaveProfile(ctx, hq, 20, ProfileInput{TaxType: TaxNone})
	assert.ErrorIs(t, err, ErrNotConsultant)

	created, err := f.svc.SaveProfile(ctx, hq, 12, ProfileInput{PerSessionRate: 45000, TaxType: TaxNone})
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)
	_, err = f.svc.SaveProfile(ctx, hq, 12, ProfileInput{PerSessionRate: 47000, TaxType: TaxNone})
	assert.ErrorIs(t, err, shared.ErrConflict)
	updated, err := f.svc.SaveProfile(ctx, hq, 12, ProfileInput{PerSessionRate: 47000, TaxType: TaxNone, Version: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(47000), updated.PerSessionRate)
}
