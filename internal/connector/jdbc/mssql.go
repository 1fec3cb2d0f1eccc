package jdbc

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

// MSSQL extends Base with SQL Server-specific handling.
type MSSQL struct {
	*Base
}

var mssqlDialect = &Dialect{
	Kind:        "mssql",
	Driver:      "sqlserver",
	Title:       "Microsoft SQL Server",
	Vendor:      "Microsoft",
	DefaultPort: 1433,
	DSN:         mssqlDSN,
	Limit:       topLimit,
	Format: literalFormat{
		timeLayout:      "2006-01-02T15:04:05",
		boolAsInt:       true,
		unicodePrefixed: true,
	}.formatter(),
}

// NewMSSQL creates a SQL Server adapter.
func NewMSSQL() *MSSQL {
	return &MSSQL{Base: NewBase(mssqlDialect)}
}

func mssqlDSN(s endpoint.Settings) string {
	q := url.Values{}
	q.Set("database", s.Database)
	for _, k := range s.SortedOptions() {
		q.Set(k, s.Options[k])
	}
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(s.User, s.Password),
		Host:     net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// topLimit rewrites the envelope's leading SELECT into SELECT TOP n.
// SQL Server has no LIMIT clause.
func topLimit(query string, n int) string {
	const prefix = "SELECT * FROM ("
	if strings.HasPrefix(query, prefix) {
		return "SELECT TOP " + strconv.Itoa(n) + " * FROM (" + strings.TrimPrefix(query, prefix)
	}
	return "SELECT TOP " + strconv.Itoa(n) + " * FROM (" + query + ") AS __lim__"
}
