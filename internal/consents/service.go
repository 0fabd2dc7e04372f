package consents

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/counselhub/counselhub/internal/shared"
)

// Service manages consent documents and user choices.
type Service struct {
	repo  Repository
	audit shared.AuditRecorder
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, audit shared.AuditRecorder) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// Document returns the newest effective document of t.
func (s *Service) Document(ctx context.Context, t Type) (Document, error) {
	t = t.normalize()
	if !t.Valid() {
		return Document{}, ErrUnknownType
	}
	return s.repo.LatestDocument(ctx, t)
}

// Publish stores a new version of a document. Existing agreements to a
// required type then report needs_reconsent.
func (s *Service) Publish(ctx context.Context, actorID int64, in PublishInput) (Document, error) {
	t := in.Type.normalize()
	if !t.Valid() {
		return Document{}, ErrUnknownType
	}
	effective := s.now()
	if in.EffectiveAt != nil {
		effective = *in.EffectiveAt
	}
	doc, err := s.repo.CreateDocument(ctx, Document{
		Type:        t,
		Title:       strings.TrimSpace(in.Title),
		Content:     in.Content,
		IsRequired:  t.Required(),
		EffectiveAt: effective,
	})
	if err != nil {
		return Document{}, err
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "CONSENT_DOCUMENT_PUBLISH",
		Entity:   "consent_document",
		EntityID: strconv.FormatInt(doc.ID, 10),
		Meta:     map[string]any{"type": t, "version": doc.Version},
	})
	return doc, nil
}

// CheckRequired verifies items agree to every required type.
func CheckRequired(items []Item) error {
	agreed := make(map[Type]bool, len(items))
	for _, it := range items {
		t := it.Type.normalize()
		if !t.Valid() {
			return ErrUnknownType
		}
		agreed[t] = it.Agreed
	}
	for _, t := range Types() {
		if t.Required() && !agreed[t] {
			return ErrRequiredMissing
		}
	}
	return nil
}

// Agree appends one record per item against the latest document versions.
// Withdrawing a required type through Agree is refused.
func (s *Service) Agree(ctx context.Context, userID int64, items []Item, meta Meta) ([]Status, error) {
	if len(items) == 0 {
		return nil, shared.NewUserError(shared.ErrValidation, "동의 항목을 선택해 주세요.")
	}
	versions, err := s.repo.LatestVersions(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(items))
	for _, it := range items {
		t := it.Type.normalize()
		if !t.Valid() {
			return nil, ErrUnknownType
		}
		if t.Required() && !it.Agreed {
			return nil, ErrRequiredWithdrawn
		}
		version, ok := versions[t]
		if !ok {
			return nil, ErrDocumentNotFound
		}
		records = append(records, Record{
			UserID:          userID,
			Type:            t,
			DocumentVersion: version,
			Agreed:          it.Agreed,
			IP:              meta.IP,
			UserAgent:       truncate(meta.UserAgent, 500),
		})
	}
	if err := s.repo.Append(ctx, records); err != nil {
		return nil, err
	}
	return s.Status(ctx, userID)
}

// RecordSignup stores the choices made on the signup form.
func (s *Service) RecordSignup(ctx context.Context, userID int64, items []Item, meta Meta) error {
	if err := CheckRequired(items); err != nil {
		return err
	}
	_, err := s.Agree(ctx, userID, items, meta)
	return err
}

// Withdraw records a withdrawal of an optional consent.
func (s *Service) Withdraw(ctx context.Context, userID int64, t Type, meta Meta) ([]Status, error) {
	t = t.normalize()
	if !t.Valid() {
		return nil, ErrUnknownType
	}
	if t.Required() {
		return nil, ErrRequiredWithdrawn
	}
	return s.Agree(ctx, userID, []Item{{Type: t, Agreed: false}}, meta)
}

// Status reports the current state of every consent type for userID.
func (s *Service) Status(ctx context.Context, userID int64) ([]Status, error) {
	versions, err := s.repo.LatestVersions(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := s.repo.Latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(Types()))
	for _, t := range Types() {
		st := Status{Type: t, Required: t.Required(), LatestVersion: versions[t]}
		if rec, ok := latest[t]; ok {
			at := rec.CreatedAt
			st.Agreed = rec.Agreed
			st.UpdatedAt = &at
			if rec.Agreed {
				st.AgreedVersion = rec.DocumentVersion
			}
		}
		if st.Required && st.LatestVersion > 0 && (!st.Agreed || st.AgreedVersion < st.LatestVersion) {
			st.NeedsReconsent = true
		}
		out = append(out, st)
	}
	return out, nil
}

// History returns the raw records of userID for administrators.
func (s *Service) History(ctx context.Context, userID int64) ([]Record, error) {
	return s.repo.History(ctx, userID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
