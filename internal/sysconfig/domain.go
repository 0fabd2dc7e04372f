package sysconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/counselhub/counselhub/internal/shared"
)

// ValueType describes how a setting value is parsed.
type ValueType string

const (
	TypeString   ValueType = "STRING"
	TypeInt      ValueType = "INT"
	TypeBool     ValueType = "BOOL"
	TypeDuration ValueType = "DURATION"
	TypeDecimal  ValueType = "DECIMAL"
)

// Well known keys read by other modules.
const (
	KeyBusinessOpen          = "business.open_time"
	KeyBusinessClose         = "business.close_time"
	KeySlotMinutes           = "schedule.slot_minutes"
	KeyNoShowConsumes        = "schedule.no_show_consumes_session"
	KeyCancelDeadline        = "schedule.client_cancel_deadline"
	KeyReminderEnabled       = "schedule.reminder_enabled"
	KeySMSDailyLimit         = "sms.daily_limit"
	KeyIncomeTaxRate         = "salary.income_tax_rate"
	KeyLocalTaxRate          = "salary.local_tax_rate"
	KeyMappingValidDays      = "mapping.default_valid_days"
	KeyLoginMaxFailures      = "auth.login_max_failures"
	KeyLoginLockout          = "auth.login_lockout"
	KeyStatisticsCacheTTL    = "statistics.cache_ttl"
	KeyPasswordHistoryLength = "auth.password_history"
)

// Setting is one configuration row.
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	ValueType   ValueType `json:"value_type"`
	Description string    `json:"description"`
	Version     int       `json:"version"`
	UpdatedBy   *int64    `json:"updated_by,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	// IsDefault marks built-in values that were never stored.
	IsDefault bool `json:"is_default"`
}

// Defaults lists the built-in settings with their types.
var Defaults = []Setting{
	{Key: KeyBusinessOpen, Value: "09:00", ValueType: TypeString, Description: "상담 운영 시작 시각 (HH:MM)"},
	{Key: KeyBusinessClose, Value: "21:00", ValueType: TypeString, Description: "상담 운영 종료 시각 (HH:MM)"},
	{Key: KeySlotMinutes, Value: "50", ValueType: TypeInt, Description: "상담 1회 시간(분)"},
	{Key: KeyNoShowConsumes, Value: "true", ValueType: TypeBool, Description: "노쇼 시 회기 차감 여부"},
	{Key: KeyCancelDeadline, Value: "24h", ValueType: TypeDuration, Description: "내담자 취소 가능 기한"},
	{Key: KeyReminderEnabled, Value: "true", ValueType: TypeBool, Description: "상담 전날 알림 문자 발송"},
	{Key: KeySMSDailyLimit, Value: "10", ValueType: TypeInt, Description: "전화번호별 일일 인증문자 한도"},
	{Key: KeyIncomeTaxRate, Value: "0.03", ValueType: TypeDecimal, Description: "사업소득 원천징수 소득세율"},
	{Key: KeyLocalTaxRate, Value: "0.10", ValueType: TypeDecimal, Description: "지방소득세율 (소득세 대비)"},
	{Key: KeyMappingValidDays, Value: "180", ValueType: TypeInt, Description: "매칭 기본 유효 기간(일)"},
	{Key: KeyLoginMaxFailures, Value: "5", ValueType: TypeInt, Description: "계정 잠금 전 허용 로그인 실패 횟수"},
	{Key: KeyLoginLockout, Value: "30m", ValueType: TypeDuration, Description: "로그인 잠금 시간"},
	{Key: KeyStatisticsCacheTTL, Value: "5m", ValueType: TypeDuration, Description: "대시보드 통계 캐시 시간"},
	{Key: KeyPasswordHistoryLength, Value: "3", ValueType: TypeInt, Description: "재사용 금지 비밀번호 개수"},
}

func defaultFor(key string) (Setting, bool) {
	for _, s := range Defaults {
		if s.Key == key {
			return s, true
		}
	}
	return Setting{}, false
}

// ErrInvalidValue is returned when a value does not parse as its type.
var ErrInvalidValue = shared.NewUserError(shared.ErrValidation, "설정값이 형식에 맞지 않습니다.")

// CheckValue validates raw against typ and returns its canonical form.
func CheckValue(typ ValueType, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch typ {
	case TypeString:
		return raw, nil
	case TypeInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", ErrInvalidValue
		}
		return strconv.FormatInt(v, 10), nil
	case TypeBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return "", ErrInvalidValue
		}
		return strconv.FormatBool(v), nil
	case TypeDuration:
		v, err := time.ParseDuration(raw)
		if err != nil || v < 0 {
			return "", ErrInvalidValue
		}
		return v.String(), nil
	case TypeDecimal:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", ErrInvalidValue
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("sysconfig: unknown value type %q", typ)
}

// ParseClock parses HH:MM into minutes after midnight.
func ParseClock(raw string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, ErrInvalidValue
	}
	return t.Hour()*60 + t.Minute(), nil
}
