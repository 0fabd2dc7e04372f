// Package consents tracks versioned privacy consent documents and the
// append-only history of user agreements and withdrawals.
package consents

import (
	"strings"
	"time"

	"github.com/counselhub/counselhub/internal/shared"
)

// Type identifies a consent document family.
type Type string

// Consent types.
const (
	TypeTerms             Type = "TERMS"
	TypePrivacyCollection Type = "PRIVACY_COLLECTION"
	TypeSensitiveInfo     Type = "SENSITIVE_INFO"
	TypePrivacyThirdParty Type = "PRIVACY_THIRD_PARTY"
	TypeMarketingSMS      Type = "MARKETING_SMS"
	TypeMarketingEmail    Type = "MARKETING_EMAIL"
)

var required = map[Type]bool{
	TypeTerms:             true,
	TypePrivacyCollection: true,
	TypeSensitiveInfo:     true,
	TypePrivacyThirdParty: false,
	TypeMarketingSMS:      false,
	TypeMarketingEmail:    false,
}

// Types lists every known consent type, required ones first.
func Types() []Type {
	return []Type{TypeTerms, TypePrivacyCollection, TypeSensitiveInfo, TypePrivacyThirdParty, TypeMarketingSMS, TypeMarketingEmail}
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	_, ok := required[t]
	return ok
}

func (t Type) normalize() Type {
	return Type(strings.ToUpper(strings.TrimSpace(string(t))))
}

// Required reports whether agreeing to t is mandatory.
func (t Type) Required() bool {
	return required[t]
}

// Document is one published version of a consent text.
type Document struct {
	ID          int64     `json:"id"`
	Type        Type      `json:"type"`
	Version     int       `json:"version"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	IsRequired  bool      `json:"is_required"`
	EffectiveAt time.Time `json:"effective_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record is one agreement or withdrawal row.
type Record struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	Type            Type      `json:"type"`
	DocumentVersion int       `json:"document_version"`
	Agreed          bool      `json:"agreed"`
	IP              string    `json:"ip"`
	UserAgent       string    `json:"user_agent"`
	CreatedAt       time.Time `json:"created_at"`
}

// Status is the current state of one consent type for a user.
type Status struct {
	Type           Type       `json:"type"`
	Required       bool       `json:"required"`
	Agreed         bool       `json:"agreed"`
	AgreedVersion  int        `json:"agreed_version,omitempty"`
	LatestVersion  int        `json:"latest_version"`
	NeedsReconsent bool       `json:"needs_reconsent"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// Item is a single choice submitted by a user.
type Item struct {
	Type   Type `json:"type" validate:"required"`
	Agreed bool `json:"agreed"`
}

// Meta captures where a choice was made.
type Meta struct {
	IP        string
	UserAgent string
}

// PublishInput creates a new document version.
type PublishInput struct {
	Type        Type       `json:"type" validate:"required"`
	Title       string     `json:"title" validate:"required,max=200"`
	Content     string     `json:"content" validate:"required"`
	EffectiveAt *time.Time `json:"effective_at"`
}

var (
	ErrUnknownType       = shared.NewUserError(shared.ErrValidation, "알 수 없는 동의 항목입니다.")
	ErrDocumentNotFound  = shared.NewUserError(shared.ErrNotFound, "동의서 문서를 찾을 수 없습니다.")
	ErrRequiredMissing   = shared.NewUserError(shared.ErrValidation, "필수 동의 항목에 모두 동의해 주세요.")
	ErrRequiredWithdrawn = shared.NewUserError(shared.ErrInvalidState, "필수 동의 항목은 철회할 수 없습니다. 회원 탈퇴를 이용해 주세요.")
)
