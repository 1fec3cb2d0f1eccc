package jdbc

import (
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

// MySQL extends Base for MySQL and MariaDB.
type MySQL struct {
	*Base
}

var mysqlDialect = &Dialect{
	Kind:        "mysql",
	Driver:      "mysql",
	Title:       "MySQL",
	Vendor:      "Oracle",
	DefaultPort: 3306,
	DSN:         mysqlDSN,
	Limit:       limitSuffix,
	Format: literalFormat{
		timeLayout:      "2006-01-02 15:04:05",
		escapeBackslash: true,
	}.formatter(),
}

// NewMySQL creates a MySQL adapter.
func NewMySQL() *MySQL {
	return &MySQL{Base: NewBase(mysqlDialect)}
}

func mysqlDSN(s endpoint.Settings) string {
	cfg := mysql.NewConfig()
	cfg.User = s.User
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	cfg.DBName = s.Database
	cfg.ParseTime = true
	if len(s.Options) > 0 {
		cfg.Params = make(map[string]string, len(s.Options))
		for _, k := range s.SortedOptions() {
			cfg.Params[k] = s.Options[k]
		}
	}
	return cfg.FormatDSN()
}
