package db

import "embed"

// Metastore schema migrations, compiled into the binary so a deployment
// never depends on a migrations directory on disk.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS
