package migrations

import "embed"

// Migration files are compiled into the binary so deployments never depend
// on files on disk.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
