// Package migrations embeds the SQL migration files into the binary, so
// Gatekeeper can migrate without the files being present on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gatekeeper/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // files are at the root of the embedded FS
}
