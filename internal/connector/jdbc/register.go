package jdbc

import (
	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

// init registers database/sql adapters with the endpoint registry.
func init() {
	registry := endpoint.DefaultRegistry()

	registry.Register("redshift", func() (endpoint.Source, error) {
		return NewRedshift(), nil
	})

	registry.Register("mysql", func() (endpoint.Source, error) {
		return NewMySQL(), nil
	})

	registry.Register("mssql", func() (endpoint.Source, error) {
		return NewMSSQL(), nil
	})

	registry.Register("sqlite", func() (endpoint.Source, error) {
		return NewSQLite(), nil
	})
}
