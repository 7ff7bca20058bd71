// Package migrations embeds the goose SQL migrations for the catalog database.
package migrations

import "embed"

// CoreDir is the directory inside FS holding the catalog migrations.
const CoreDir = "core"

//go:embed core/*.sql
var FS embed.FS
