package jdbc

import (
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL wire driver, used for Redshift

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

// Redshift extends Base for Amazon Redshift clusters.
type Redshift struct {
	*Base
}

var redshiftDialect = &Dialect{
	Kind:        "redshift",
	Driver:      "postgres",
	Title:       "Amazon Redshift",
	Vendor:      "Amazon",
	DefaultPort: 5439,
	DSN:         redshiftDSN,
	Limit:       limitSuffix,
	Format:      literalFormat{timeLayout: time.RFC3339}.formatter(),
}

// NewRedshift creates a Redshift adapter.
func NewRedshift() *Redshift {
	return &Redshift{Base: NewBase(redshiftDialect)}
}

// redshiftDSN builds a postgres:// URL. Redshift only accepts TLS, so sslmode
// defaults to require unless an option overrides it.
func redshiftDSN(s endpoint.Settings) string {
	q := url.Values{}
	q.Set("sslmode", "require")
	for _, k := range s.SortedOptions() {
		q.Set(k, s.Options[k])
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.User, s.Password),
		Host:     net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:     "/" + s.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}
