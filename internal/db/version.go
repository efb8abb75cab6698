// Package db provides schema migration and the PostgreSQL notification bridge.
package db

import (
	"io/fs"

	"github.com/persistorai/queuecall/internal/db/migrations"
)

// SchemaVersion reports the schema version shipped with this build, which is
// the number of embedded migration files.
func SchemaVersion() int {
	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return 0
	}

	return len(files)
}
