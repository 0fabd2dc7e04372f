// Package password implements the account password policy and hashing.
package password

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/counselhub/counselhub/internal/shared"
)

// Length bounds.
const (
	MinLength = 8
	MaxLength = 64
	// HistoryDepth is how many previous passwords may not be reused.
	HistoryDepth = 3
)

// Violation codes reported by Check.
const (
	CodeLength      = "LENGTH"
	CodeComplexity  = "COMPLEXITY"
	CodeRepeated    = "REPEATED"
	CodeSequential  = "SEQUENTIAL"
	CodeContainsID  = "CONTAINS_EMAIL"
	CodeWhitespace  = "WHITESPACE"
	CodeRecentlyUse = "REUSED"
)

// Violation is one failed rule.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of a policy check.
type Result struct {
	Valid      bool        `json:"valid"`
	Strength   string      `json:"strength"`
	Violations []Violation `json:"violations"`
}

var messages = map[string]string{
	CodeLength:      "비밀번호는 8자 이상 64자 이하여야 합니다.",
	CodeComplexity:  "영문 대문자, 소문자, 숫자, 특수문자 중 3종류 이상을 포함해야 합니다.",
	CodeRepeated:    "같은 문자를 3번 이상 연속으로 사용할 수 없습니다.",
	CodeSequential:  "연속된 문자나 숫자를 3자리 이상 사용할 수 없습니다.",
	CodeContainsID:  "비밀번호에 이메일 아이디를 포함할 수 없습니다.",
	CodeWhitespace:  "비밀번호에 공백을 사용할 수 없습니다.",
	CodeRecentlyUse: "최근에 사용한 비밀번호는 다시 사용할 수 없습니다.",
}

func violation(code string) Violation {
	return Violation{Code: code, Message: messages[code]}
}

// Check evaluates pw against every rule. email may be empty.
func Check(pw, email string) Result {
	var out []Violation
	n := len([]rune(pw))
	if n < MinLength || n > MaxLength {
		out = append(out, violation(CodeLength))
	}
	if strings.IndexFunc(pw, unicode.IsSpace) >= 0 {
		out = append(out, violation(CodeWhitespace))
	}
	classes := classCount(pw)
	if classes < 3 {
		out = append(out, violation(CodeComplexity))
	}
	if hasRepeat(pw) {
		out = append(out, violation(CodeRepeated))
	}
	if hasSequence(pw) {
		out = append(out, violation(CodeSequential))
	}
	if local := localPart(email); len(local) >= 3 && strings.Contains(strings.ToLower(pw), local) {
		out = append(out, violation(CodeContainsID))
	}
	return Result{Valid: len(out) == 0, Strength: strength(n, classes, len(out)), Violations: out}
}

// Validate returns a validation error carrying the first violation message.
func Validate(pw, email string) error {
	res := Check(pw, email)
	if res.Valid {
		return nil
	}
	return shared.NewUserError(shared.ErrValidation, res.Violations[0].Message)
}

// ErrReused is returned when a password matches a recent one.
var ErrReused = shared.NewUserError(shared.ErrValidation, messages[CodeRecentlyUse])

// Hash returns a bcrypt hash of pw.
func Hash(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Matches reports whether pw matches hash.
func Matches(hash, pw string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Reused reports whether pw matches any of the given hashes.
func Reused(hashes []string, pw string) bool {
	for _, h := range hashes {
		if Matches(h, pw) {
			return true
		}
	}
	return false
}

const (
	upper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lower   = "abcdefghijkmnpqrstuvwxyz"
	digits  = "23456789"
	special = "!@#$%^&*"
)

// Generate returns a random temporary password that satisfies the policy.
func Generate(length int) (string, error) {
	if length < MinLength+2 {
		length = MinLength + 2
	}
	all := upper + lower + digits + special
	for {
		buf := make([]byte, 0, length)
		for _, set := range []string{upper, lower, digits, special} {
			c, err := pick(set)
			if err != nil {
				return "", err
			}
			buf = append(buf, c)
		}
		for len(buf) < length {
			c, err := pick(all)
			if err != nil {
				return "", err
			}
			buf = append(buf, c)
		}
		if err := shuffle(buf); err != nil {
			return "", err
		}
		if pw := string(buf); Check(pw, "").Valid {
			return pw, nil
		}
	}
}

func pick(set string) (byte, error) {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[i.Int64()], nil
}

func shuffle(buf []byte) error {
	for i := len(buf) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		buf[i], buf[j.Int64()] = buf[j.Int64()], buf[i]
	}
	return nil
}

func classCount(pw string) int {
	var up, lo, dg, sp bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			up = true
		case unicode.IsLower(r):
			lo = true
		case unicode.IsDigit(r):
			dg = true
		case !unicode.IsSpace(r):
			sp = true
		}
	}
	n := 0
	for _, ok := range []bool{up, lo, dg, sp} {
		if ok {
			n++
		}
	}
	return n
}

func hasRepeat(pw string) bool {
	rs := []rune(pw)
	for i := 2; i < len(rs); i++ {
		if rs[i] == rs[i-1] && rs[i] == rs[i-2] {
			return true
		}
	}
	return false
}

// hasSequence detects runs like "abc", "CBA" or "789" (case-insensitive).
func hasSequence(pw string) bool {
	rs := []rune(strings.ToLower(pw))
	for i := 2; i < len(rs); i++ {
		a, b, c := rs[i-2], rs[i-1], rs[i]
		if !sameKind(a, b) || !sameKind(b, c) {
			continue
		}
		if (b-a == 1 && c-b == 1) || (a-b == 1 && b-c == 1) {
			return true
		}
	}
	return false
}

func sameKind(a, b rune) bool {
	isAlpha := func(r rune) bool { return r >= 'a' && r <= 'z' }
	isNum := func(r rune) bool { return r >= '0' && r <= '9' }
	return (isAlpha(a) && isAlpha(b)) || (isNum(a) && isNum(b))
}

func localPart(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	return strings.ToLower(email[:at])
}

func strength(length, classes, violations int) string {
	switch {
	case violations > 0:
		return "WEAK"
	case length >= 12 && classes == 4:
		return "STRONG"
	default:
		return "MEDIUM"
	}
}
