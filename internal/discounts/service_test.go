package discounts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/counselhub/internal/shared"
	_ "github.com/counselhub/counselhub/testing"
)

type memoryRepo struct {
	items  map[int64]Discount
	nextID int64
}

func newMemoryRepo() *memoryRepo { return &memoryRepo{items: map[int64]Discount{}} }

func (m *memoryRepo) List(_ context.Context, f ListFilter) ([]Discount, int, error) {
	var out []Discount
	for _, d := range m.items {
		out = append(out, d)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Discount, error) {
	d, ok := m.items[id]
	if !ok {
		return Discount{}, ErrNotFound
	}
	return d, nil
}

func (m *memoryRepo) GetByCode(_ context.Context, code string) (Discount, error) {
	for _, d := range m.items {
		if d.Code == code {
			return d, nil
		}
	}
	return Discount{}, ErrNotFound
}

func (m *memoryRepo) Create(_ context.Context, d Discount) (Discount, error) {
	for _, existing := range m.items {
		if existing.Code == d.Code {
			return Discount{}, ErrDuplicateCode
		}
	}
	m.nextID++
	d.ID = m.nextID
	d.Version = 1
	m.items[d.ID] = d
	return d, nil
}

func (m *memoryRepo) Update(_ context.Context, d Discount, version int) (Discount, error) {
	cur, ok := m.items[d.ID]
	if !ok {
		return Discount{}, ErrNotFound
	}
	if cur.Version != version {
		return Discount{}, shared.ErrConflict
	}
	d.UsageCount = cur.UsageCount
	d.Version = version + 1
	m.items[d.ID] = d
	return d, nil
}

func (m *memoryRepo) SoftDelete(_ context.Context, id int64) error {
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func TestServiceCreateAndQuote(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, Form{Code: "big", Name: "x", Type: TypePercent, Value: 120})
	require.ErrorIs(t, err, ErrInvalidPercent)

	d, err := svc.Create(ctx, 1, Form{Code: " spring10 ", Name: "봄맞이", Type: TypePercent, Value: 10})
	require.NoError(t, err)
	assert.Equal(t, "SPRING10", d.Code)
	assert.True(t, d.IsActive)

	_, err = svc.Create(ctx, 1, Form{Code: "SPRING10", Name: "dup", Type: TypeFixed, Value: 1000})
	require.ErrorIs(t, err, ErrDuplicateCode)

	calc, err := svc.Quote(ctx, 200000, "spring10")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), calc.DiscountAmount)
	assert.Equal(t, int64(180000), calc.FinalAmount)

	calc, err = svc.Quote(ctx, 200000, "")
	require.NoError(t, err)
	assert.Nil(t, calc.DiscountID)

	_, err = svc.Quote(ctx, 200000, "NOPE")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestServiceUpdateRules(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	d, err := svc.Create(ctx, 1, Form{Code: "FIX", Name: "정액", Type: TypeFixed, Value: 5000, UsageLimit: ptr(10)})
	require.NoError(t, err)
	d.UsageCount = 4
	repo.items[d.ID] = d

	_, err = svc.Update(ctx, 1, d.ID, Form{Code: "FIX", Name: "정액", Type: TypeFixed, Value: 5000, UsageLimit: ptr(3), Version: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Update(ctx, 1, d.ID, Form{Code: "FIX", Name: "정액", Type: TypeFixed, Value: 7000, Version: 9})
	require.ErrorIs(t, err, shared.ErrConflict)

	updated, err := svc.Update(ctx, 1, d.ID, Form{Code: "FIX", Name: "정액", Type: TypeFixed, Value: 7000, Version: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(7000), updated.Value)
	assert.Equal(t, 2, updated.Version)

	_, err = svc.Update(ctx, 1, d.ID, Form{Code: "FIX", Name: "정액", Type: TypeFixed, Value: 7000})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestServiceVerifyByCode(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, 1, Form{Code: "TEN", Name: "10%", Type: TypePercent, Value: 10})
	require.NoError(t, err)

	res, err := svc.Verify(ctx, VerifyInput{
		DiscountCode: "TEN",
		Calculation:  Calculation{BaseAmount: 100000, DiscountAmount: 10000, FinalAmount: 90000, SupplyAmount: 81818, VATAmount: 8182},
	})
	require.NoError(t, err)
	assert.True(t, res.Consistent)
}
