// Package transform maps raw source rows onto normalized ingestion records.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

// Structural column names.
const (
	ColumnExternalID = "external_id"
	ColumnEvent      = "event"
	ColumnTimestamp  = "timestamp"
	ColumnEventID    = "event_id"
	ColumnUpdatedAt  = "updated_at"
)

// Record is one normalized record, serialized as a single NDJSON line.
type Record struct {
	UserID     string         `json:"userId,omitempty"`
	AccountID  string         `json:"accountId,omitempty"`
	Traits     map[string]any `json:"traits,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Event      string         `json:"event,omitempty"`
	EventID    string         `json:"eventId,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
}

// Identity returns whichever identity field is populated.
func (r Record) Identity() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.AccountID
}

// Transformer normalizes rows for one import kind and tracks the greatest
// updated_at it has seen. It is not safe for concurrent use.
type Transformer struct {
	kind         endpoint.ImportKind
	maxUpdatedAt time.Time
	count        int64
}

// New creates a Transformer for kind.
func New(kind endpoint.ImportKind) *Transformer {
	return &Transformer{kind: kind}
}

// Kind returns the import kind.
func (t *Transformer) Kind() endpoint.ImportKind { return t.kind }

// Transform normalizes one raw row. The row itself is not modified.
func (t *Transformer) Transform(raw endpoint.Record) Record {
	t.count++
	t.observeUpdatedAt(raw[ColumnUpdatedAt])

	data := make(map[string]any, len(raw))
	var out Record

	for col, v := range raw {
		switch {
		case col == ColumnExternalID:
			if v == nil {
				continue
			}
			id := Stringify(v)
			if t.kind == endpoint.ImportAccounts {
				out.AccountID = id
			} else {
				out.UserID = id
			}
		case t.kind == endpoint.ImportEvents && col == ColumnEvent:
			if v != nil {
				out.Event = Stringify(v)
			}
		case t.kind == endpoint.ImportEvents && col == ColumnTimestamp:
			if v != nil {
				out.Timestamp = Stringify(v)
			}
		case t.kind == endpoint.ImportEvents && col == ColumnEventID:
			if v != nil {
				out.EventID = Stringify(v)
			}
		default:
			data[col] = normalizeValue(v)
		}
	}

	if t.kind == endpoint.ImportEvents {
		out.Properties = data
	} else {
		out.Traits = data
	}
	return out
}

// MaxUpdatedAt returns the greatest observed updated_at and whether any was seen.
func (t *Transformer) MaxUpdatedAt() (time.Time, bool) {
	return t.maxUpdatedAt, !t.maxUpdatedAt.IsZero()
}

// Count returns the number of transformed rows.
func (t *Transformer) Count() int64 { return t.count }

func (t *Transformer) observeUpdatedAt(v any) {
	ts, ok := ParseTime(v)
	if !ok {
		return
	}
	if ts.After(t.maxUpdatedAt) {
		t.maxUpdatedAt = ts
	}
}

// Stringify renders an identity or structural value as a string.
func Stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTime interprets driver values as a timestamp.
func ParseTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, !x.IsZero()
	case []byte:
		return ParseTime(string(x))
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// normalizeValue turns driver byte slices into strings so they serialize as
// text rather than base64.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
