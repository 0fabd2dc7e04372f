package db

import (
	"strconv"
	"strings"
)

// Filter accumulates WHERE conditions with positional arguments.
// Conditions use ? placeholders which are rewritten to $n in order.
type Filter struct {
	clauses []string
	args    []any
}

// NewFilter starts a filter with optional fixed conditions such as "deleted_at IS NULL".
func NewFilter(fixed ...string) *Filter {
	return &Filter{clauses: append([]string(nil), fixed...)}
}

// Add appends cond, binding args to its placeholders.
func (f *Filter) Add(cond string, args ...any) *Filter {
	var b strings.Builder
	next := 0
	for _, r := range cond {
		if r == '?' && next < len(args) {
			f.args = append(f.args, args[next])
			next++
			b.WriteString("$" + strconv.Itoa(len(f.args)))
			continue
		}
		b.WriteRune(r)
	}
	f.clauses = append(f.clauses, b.String())
	return f
}

// Arg binds one extra argument (e.g. for LIMIT) and returns its placeholder.
func (f *Filter) Arg(v any) string {
	f.args = append(f.args, v)
	return "$" + strconv.Itoa(len(f.args))
}

// Where renders the WHERE clause, or an empty string when there are no conditions.
func (f *Filter) Where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

// Args returns the bound arguments.
func (f *Filter) Args() []any {
	return f.args
}

// Page appends LIMIT/OFFSET placeholders.
func (f *Filter) Page(limit, offset int) string {
	return " LIMIT " + f.Arg(limit) + " OFFSET " + f.Arg(offset)
}
