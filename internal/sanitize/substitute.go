package sanitize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

// Formatter renders a replacement value as a SQL literal.
type Formatter func(v any) string

// Substitute replaces :name placeholders in active SQL with formatted literals.
// Placeholders inside quotes and comments are left alone, and names without a
// replacement stay verbatim for the database to reject.
func Substitute(query string, replacements endpoint.Replacements, format Formatter) (string, error) {
	if len(replacements) == 0 {
		return query, nil
	}
	if format == nil {
		format = FormatLiteral
	}

	var (
		b     strings.Builder
		st    = stateCode
		depth int
		prev  int
	)
	b.Grow(len(query))

	for i := 0; i < len(query); {
		c := query[i]
		next := byte(0)
		if i+1 < len(query) {
			next = query[i+1]
		}

		switch st {
		case stateCode:
			switch {
			case c == '\'':
				st = stateSingle
			case c == '"':
				st = stateDouble
			case c == '-' && next == '-':
				st = stateLine
				i += 2
				continue
			case c == '/' && next == '*':
				st, depth = stateBlock, 1
				i += 2
				continue
			case c == ':':
				if name, end, ok := placeholderAt(query, i); ok {
					if v, found := replacements[name]; found {
						b.WriteString(query[prev:i])
						b.WriteString(format(v))
						prev, i = end, end
						continue
					}
					i = end
					continue
				}
			}
			i++
		case stateSingle:
			if c == '\'' {
				st = stateCode
			}
			i++
		case stateDouble:
			if c == '"' {
				st = stateCode
			}
			i++
		case stateLine:
			if c == '\n' {
				st = stateCode
			}
			i++
		case stateBlock:
			switch {
			case c == '/' && next == '*':
				depth++
				i += 2
			case c == '*' && next == '/':
				depth--
				i += 2
				if depth == 0 {
					st = stateCode
				}
			default:
				i++
			}
		}
	}
	if st == stateBlock {
		return "", endpoint.Errorf(endpoint.KindQuery, endpoint.CodeInvalidComment, "invalid comment block")
	}

	b.WriteString(query[prev:])
	return b.String(), nil
}

// FormatLiteral renders v as an ANSI SQL literal.
func FormatLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return QuoteString(x)
	case []byte:
		return QuoteString(string(x))
	case time.Time:
		return QuoteString(x.UTC().Format(time.RFC3339))
	case *time.Time:
		if x == nil {
			return "NULL"
		}
		return QuoteString(x.UTC().Format(time.RFC3339))
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return QuoteString(x.String())
	}
	return QuoteString(fmt.Sprint(v))
}

// QuoteString wraps s in single quotes, doubling embedded quotes.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
