// Package migrations embeds Warden's SQL migration files into the binary.
//
// Importing this package (usually for side effects) registers the files
// with the database package so db.Migrate can apply them.
package migrations

import (
	"embed"

	"github.com/nerrad567/warden/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
