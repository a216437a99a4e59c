// Package migrations embeds the per-hospital schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
