package consents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/counselhub/internal/shared"
)

type memoryRepo struct {
	docs    []Document
	records []Record
}

func (m *memoryRepo) LatestDocument(_ context.Context, t Type) (Document, error) {
	var found *Document
	for i := range m.docs {
		if m.docs[i].Type == t && (found == nil || m.docs[i].Version > found.Version) {
			found = &m.docs[i]
		}
	}
	if found == nil {
		return Document{}, ErrDocumentNotFound
	}
	return *found, nil
}

func (m *memoryRepo) LatestVersions(context.Context) (map[Type]int, error) {
	out := map[Type]int{}
	for _, d := range m.docs {
		if d.Version > out[d.Type] {
			out[d.Type] = d.Version
		}
	}
	return out, nil
}

func (m *memoryRepo) CreateDocument(_ context.Context, doc Document) (Document, error) {
	versions, _ := m.LatestVersions(context.Background())
	doc.Version = versions[doc.Type] + 1
	doc.ID = int64(len(m.docs) + 1)
	m.docs = append(m.docs, doc)
	return doc, nil
}

func (m *memoryRepo) Append(_ context.Context, records []Record) error {
	for _, r := range records {
		r.ID = int64(len(m.records) + 1)
		r.CreatedAt = time.Now().Add(time.Duration(r.ID) * time.Millisecond)
		m.records = append(m.records, r)
	}
	return nil
}

func (m *memoryRepo) Latest(_ context.Context, userID int64) (map[Type]Record, error) {
	out := map[Type]Record{}
	for _, r := range m.records {
		if r.UserID == userID {
			out[r.Type] = r
		}
	}
	return out, nil
}

func (m *memoryRepo) History(_ context.Context, userID int64) ([]Record, error) {
	var out []Record
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].UserID == userID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func seeded(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := &memoryRepo{}
	svc := NewService(repo, nil)
	for _, typ := range Types() {
		_, err := svc.Publish(context.Background(), 1, PublishInput{Type: typ, Title: string(typ), Content: "본문"})
		require.NoError(t, err)
	}
	return svc, repo
}

func requiredItems() []Item {
	return []Item{
		{Type: TypeTerms, Agreed: true},
		{Type: TypePrivacyCollection, Agreed: true},
		{Type: TypeSensitiveInfo, Agreed: true},
		{Type: TypeMarketingSMS, Agreed: true},
	}
}

func TestRecordSignupRequiresMandatoryTypes(t *testing.T) {
	svc, repo := seeded(t)
	ctx := context.Background()

	err := svc.RecordSignup(ctx, 7, []Item{{Type: TypeTerms, Agreed: true}}, Meta{})
	assert.ErrorIs(t, err, ErrRequiredMissing)

	require.NoError(t, svc.RecordSignup(ctx, 7, requiredItems(), Meta{IP: "10.0.0.1", UserAgent: "test"}))
	assert.Len(t, repo.records, 4)
	assert.Equal(t, "10.0.0.1", repo.records[0].IP)
	assert.Equal(t, 1, repo.records[0].DocumentVersion)
}

func TestRecordSignupAcceptsLowerCaseTypes(t *testing.T) {
	svc, repo := seeded(t)
	items := []Item{
		{Type: "terms", Agreed: true},
		{Type: "privacy_collection", Agreed: true},
		{Type: " sensitive_info", Agreed: true},
	}
	require.NoError(t, CheckRequired(items))
	require.NoError(t, svc.RecordSignup(context.Background(), 9, items, Meta{}))
	require.Len(t, repo.records, 3)
	assert.Equal(t, TypeSensitiveInfo, repo.records[2].Type)

	assert.ErrorIs(t, CheckRequired([]Item{{Type: "unknown", Agreed: true}}), ErrUnknownType)
}

func TestStatusFlagsReconsentAfterNewVersion(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()
	require.NoError(t, svc.RecordSignup(ctx, 7, requiredItems(), Meta{}))

	status, err := svc.Status(ctx, 7)
	require.NoError(t, err)
	for _, st := range status {
		assert.False(t, st.NeedsReconsent, st.Type)
	}

	_, err = svc.Publish(ctx, 1, PublishInput{Type: TypePrivacyCollection, Title: "개정", Content: "v2"})
	require.NoError(t, err)
	status, err = svc.Status(ctx, 7)
	require.NoError(t, err)
	byType := map[Type]Status{}
	for _, st := range status {
		byType[st.Type] = st
	}
	assert.True(t, byType[TypePrivacyCollection].NeedsReconsent)
	assert.Equal(t, 2, byType[TypePrivacyCollection].LatestVersion)
	assert.False(t, byType[TypeTerms].NeedsReconsent)
	assert.False(t, byType[TypeMarketingEmail].Agreed)
}

func TestWithdraw(t *testing.T) {
	svc, repo := seeded(t)
	ctx := context.Background()
	require.NoError(t, svc.RecordSignup(ctx, 7, requiredItems(), Meta{}))

	_, err := svc.Withdraw(ctx, 7, TypeTerms, Meta{})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.Withdraw(ctx, 7, "NOPE", Meta{})
	assert.ErrorIs(t, err, shared.ErrValidation)

	status, err := svc.Withdraw(ctx, 7, "marketing_sms", Meta{})
	require.NoError(t, err)
	for _, st := range status {
		if st.Type == TypeMarketingSMS {
			assert.False(t, st.Agreed)
		}
	}
	history, err := svc.History(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, history, len(repo.records))
	assert.False(t, history[0].Agreed)
}
