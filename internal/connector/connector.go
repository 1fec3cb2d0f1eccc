// Package connector links every source adapter into the default registry.
//
// Import it for side effects:
//
//	import _ "github.com/hull-ships/hull-sql-sub000/internal/connector"
package connector

import (
	_ "github.com/hull-ships/hull-sql-sub000/internal/connector/file"
	_ "github.com/hull-ships/hull-sql-sub000/internal/connector/jdbc"
	_ "github.com/hull-ships/hull-sql-sub000/internal/connector/pgsql"
)
