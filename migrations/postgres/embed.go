// Package migrations embeds SQL migration files.
package migrations

import "embed"

// FS contains the migrations for the profiles/members tables.
//
//go:embed sql/*.sql
var FS embed.FS

// Dir is the directory within FS where migrations live.
const Dir = "sql"
