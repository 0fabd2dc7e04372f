package ratings

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/counselhub/counselhub/internal/shared"
)

// MaxTags bounds the number of tags on one rating.
const MaxTags = 5

// Rating is a client's score for a completed session.
type Rating struct {
	ID           int64     `json:"id"`
	ScheduleID   int64     `json:"schedule_id"`
	BranchID     int64     `json:"-"`
	ConsultantID int64     `json:"consultant_id"`
	ClientID     int64     `json:"-"`
	ClientName   string    `json:"client_name"`
	Score        int       `json:"score"`
	Comment      string    `json:"comment"`
	Tags         []string  `json:"tags"`
	IsHidden     bool      `json:"is_hidden"`
	CreatedAt    time.Time `json:"created_at"`
}

// Summary aggregates visible ratings of a consultant.
type Summary struct {
	ConsultantID int64       `json:"consultant_id"`
	Count        int         `json:"count"`
	Average      float64     `json:"average"`
	Distribution map[int]int `json:"distribution"`
}

// ConsultantRatings is the response of the consultant rating page.
type ConsultantRatings struct {
	Summary Summary                    `json:"summary"`
	Ratings shared.PagedResult[Rating] `json:"ratings"`
}

// CreateInput rates a completed schedule.
type CreateInput struct {
	ScheduleID int64    `json:"schedule_id" validate:"required"`
	Score      int      `json:"score" validate:"required,min=1,max=5"`
	Comment    string   `json:"comment" validate:"max=1000"`
	Tags       []string `json:"tags" validate:"max=5,dive,max=20"`
}

// HideInput hides a rating from public pages.
type HideInput struct {
	Reason string `json:"reason" validate:"max=500"`
}

// NormalizeTags trims, drops blanks and de-duplicates tags in order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}

// MaskName keeps the first rune of a name.
func MaskName(name string) string {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 {
		return ""
	}
	first, _ := utf8.DecodeRuneInString(name)
	if n == 1 {
		return string(first) + "*"
	}
	return string(first) + strings.Repeat("*", n-1)
}

// Summarize builds a Summary from per-score counts. The average keeps two decimals.
func Summarize(consultantID int64, counts map[int]int) Summary {
	out := Summary{ConsultantID: consultantID, Distribution: emptyDistribution()}
	sum := 0
	for score, n := range counts {
		if score < 1 || score > 5 {
			continue
		}
		out.Distribution[score] = n
		out.Count += n
		sum += score * n
	}
	if out.Count > 0 {
		out.Average = math.Round(float64(sum)/float64(out.Count)*100) / 100
	}
	return out
}

func emptyDistribution() map[int]int {
	return map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}
}

var (
	ErrNotFound     = shared.NewUserError(shared.ErrNotFound, "평가 정보를 찾을 수 없습니다.")
	ErrAlreadyRated = shared.NewUserError(shared.ErrDuplicate, "이미 평가한 상담입니다.")
	ErrNotCompleted = shared.NewUserError(shared.ErrInvalidState, "완료된 상담만 평가할 수 있습니다.")
)
