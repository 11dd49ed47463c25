// Package all registers every relational destination backend. Import it for
// side effects from binaries that select a backend by configuration.
package all

import (
	_ "f1etl/internal/storage/mysql"
	_ "f1etl/internal/storage/postgres"
	_ "f1etl/internal/storage/sqlite"
)
