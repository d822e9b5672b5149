// Package migrations embeds the engine's SQL schema files.
package migrations

import "embed"

// FS holds every *.sql file in this directory, applied in name order.
//
//go:embed *.sql
var FS embed.FS
