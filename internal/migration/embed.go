package migration

import "embed"

// Only up migrations ship; billing state is never rolled back in place.
const migrationsDir = "migrations"

//go:embed migrations/*.up.sql
var embeddedMigrations embed.FS
