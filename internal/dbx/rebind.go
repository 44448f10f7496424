package dbx

import (
	"strconv"
	"strings"
)

// Placeholder is the bind-parameter style of a SQL dialect.
type Placeholder int

const (
	// Question keeps "?" placeholders (sqlite).
	Question Placeholder = iota
	// Dollar numbers placeholders as $1, $2, ... (postgres).
	Dollar
)

// Rebind rewrites the "?" placeholders in query for style p. Question marks
// inside single-quoted literals are left alone.
func Rebind(p Placeholder, query string) string {
	if p != Dollar {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
