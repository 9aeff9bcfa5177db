// Package migrations embeds the SQL migration files so the schema ships
// inside the binary and tests can apply it without a working directory
// dependency.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
