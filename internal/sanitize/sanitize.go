// Package sanitize scans user-supplied SQL for comments and named placeholders.
//
// The scanner is a single left-to-right pass over four exclusive lexical
// states: single-quoted literal, double-quoted literal, line comment and
// (nesting-aware) block comment. It does not parse SQL.
package sanitize

import (
	"strings"

	"go.uber.org/zap"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

// Mode selects what Sanitize does with comment regions.
type Mode string

const (
	// ModeStrip removes every comment region.
	ModeStrip Mode = "strip"
	// ModeValidate keeps the query unchanged but rejects comments holding
	// placeholders that have no replacement value.
	ModeValidate Mode = "validate"
)

type state int

const (
	stateCode state = iota
	stateSingle
	stateDouble
	stateLine
	stateBlock
)

// region is a comment span [start, end) in the scanned query.
type region struct {
	start, end int
	block      bool
}

// Sanitize applies mode to query. Replacements are only consulted in validate
// mode. An unterminated block comment is always an error.
func Sanitize(query string, replacements endpoint.Replacements, mode Mode, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	comments, err := scanComments(query)
	if err != nil {
		logger.Warn("incoming.query.invalid", zap.Error(err))
		return "", err
	}

	switch mode {
	case ModeValidate:
		for _, c := range comments {
			if name, ok := unresolvedPlaceholder(query[c.start:c.end], replacements); ok {
				logger.Warn("incoming.query.unresolved_placeholder", zap.String("placeholder", name))
				return "", endpoint.Errorf(endpoint.KindQuery, endpoint.CodeUnresolvedParam,
					"unresolved placeholder :%s found inside a comment", name)
			}
		}
		return query, nil
	default:
		if len(comments) > 0 {
			logger.Debug("incoming.query.comments_stripped", zap.Int("count", len(comments)))
		}
		return splice(query, comments), nil
	}
}

// Strip removes all comments from query.
func Strip(query string) (string, error) {
	return Sanitize(query, nil, ModeStrip, nil)
}

// Validate checks that no comment in query holds an unresolved placeholder.
func Validate(query string, replacements endpoint.Replacements) error {
	_, err := Sanitize(query, replacements, ModeValidate, nil)
	return err
}

func scanComments(q string) ([]region, error) {
	var (
		comments []region
		st       = stateCode
		depth    int
		start    int
	)

	for i := 0; i < len(q); {
		c := q[i]
		next := byte(0)
		if i+1 < len(q) {
			next = q[i+1]
		}

		switch st {
		case stateCode:
			switch {
			case c == '\'':
				st = stateSingle
				i++
			case c == '"':
				st = stateDouble
				i++
			case c == '-' && next == '-':
				st, start = stateLine, i
				i += 2
			case c == '/' && next == '*':
				st, start, depth = stateBlock, i, 1
				i += 2
			default:
				i++
			}
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
				// the newline stays in the query
				comments = append(comments, region{start: start, end: i})
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
					comments = append(comments, region{start: start, end: i, block: true})
					st = stateCode
				}
			default:
				i++
			}
		}
	}

	switch st {
	case stateLine:
		comments = append(comments, region{start: start, end: len(q)})
	case stateBlock:
		return nil, endpoint.Errorf(endpoint.KindQuery, endpoint.CodeInvalidComment, "invalid comment block")
	}
	return comments, nil
}

// splice drops comment regions. A block comment glued between two tokens is
// replaced by one space so the tokens stay apart.
func splice(q string, comments []region) string {
	if len(comments) == 0 {
		return q
	}
	var b strings.Builder
	b.Grow(len(q))
	prev := 0
	for _, c := range comments {
		b.WriteString(q[prev:c.start])
		if c.block && c.start > 0 && c.end < len(q) && !isSpace(q[c.start-1]) && !isSpace(q[c.end]) {
			b.WriteByte(' ')
		}
		prev = c.end
	}
	b.WriteString(q[prev:])
	return b.String()
}

// unresolvedPlaceholder returns the first :name in text without a replacement.
func unresolvedPlaceholder(text string, replacements endpoint.Replacements) (string, bool) {
	for i := 0; i < len(text); i++ {
		name, end, ok := placeholderAt(text, i)
		if !ok {
			continue
		}
		if _, found := replacements[name]; !found {
			return name, true
		}
		i = end - 1
	}
	return "", false
}

// placeholderAt reports whether a :name placeholder starts at text[i].
// Names must start with a letter or underscore, so pure-numeric arguments
// (":30" in a time) are not placeholders; "::" casts are skipped too.
func placeholderAt(text string, i int) (name string, end int, ok bool) {
	if text[i] != ':' || i+1 >= len(text) || !isIdentStart(text[i+1]) {
		return "", 0, false
	}
	if i > 0 && text[i-1] == ':' {
		return "", 0, false
	}
	j := i + 1
	for j < len(text) && isIdentPart(text[j]) {
		j++
	}
	return text[i+1 : j], j, true
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
