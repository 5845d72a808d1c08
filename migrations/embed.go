// Package migrations carries the bridge's SQL schema. Importing it for
// side effects hands the embedded files to the database package, so the
// binary migrates without the .sql files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/lmbridge/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS, database.MigrationsDir = files, "."
}
