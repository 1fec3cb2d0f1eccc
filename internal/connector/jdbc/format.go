package jdbc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hull-ships/hull-sql-sub000/internal/sanitize"
)

// literalFormat describes how a vendor spells literals.
type literalFormat struct {
	timeLayout      string
	boolAsInt       bool
	escapeBackslash bool
	unicodePrefixed bool
}

func (f literalFormat) formatter() sanitize.Formatter {
	return func(v any) string {
		switch x := v.(type) {
		case bool:
			if f.boolAsInt {
				if x {
					return "1"
				}
				return "0"
			}
		case time.Time:
			return f.quote(x.UTC().Format(f.timeLayout))
		case *time.Time:
			if x != nil {
				return f.quote(x.UTC().Format(f.timeLayout))
			}
		case string:
			return f.quote(x)
		case []byte:
			return f.quote(string(x))
		case fmt.Stringer:
			return f.quote(x.String())
		}
		return sanitize.FormatLiteral(v)
	}
}

func (f literalFormat) quote(s string) string {
	if f.escapeBackslash {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	q := sanitize.QuoteString(s)
	if f.unicodePrefixed {
		return "N" + q
	}
	return q
}

// limitSuffix appends LIMIT n.
func limitSuffix(query string, n int) string {
	return query + " LIMIT " + strconv.Itoa(n)
}
