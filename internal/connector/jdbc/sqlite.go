package jdbc

import (
	"net/url"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

// SQLite extends Base for local SQLite database files. Only the database path
// is required.
type SQLite struct {
	*Base
}

var sqliteDialect = &Dialect{
	Kind:     "sqlite",
	Driver:   "sqlite",
	Title:    "SQLite",
	Vendor:   "SQLite",
	Required: []string{"database"},
	DSN:      sqliteDSN,
	Limit:    limitSuffix,
	Format: literalFormat{
		timeLayout: "2006-01-02 15:04:05",
		boolAsInt:  true,
	}.formatter(),
}

// NewSQLite creates a SQLite adapter.
func NewSQLite() *SQLite {
	return &SQLite{Base: NewBase(sqliteDialect)}
}

// GetDescriptor narrows the field list to the database path.
func (s *SQLite) GetDescriptor() *endpoint.Descriptor {
	d := s.Base.GetDescriptor()
	d.Fields = []*endpoint.FieldDescriptor{
		{Key: "database", Label: "Database file", ValueType: "string", Required: true},
	}
	return d
}

func sqliteDSN(s endpoint.Settings) string {
	if len(s.Options) == 0 {
		return s.Database
	}
	q := url.Values{}
	for _, k := range s.SortedOptions() {
		q.Set(k, s.Options[k])
	}
	return "file:" + s.Database + "?" + q.Encode()
}
