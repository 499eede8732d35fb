// Package migrations embeds the SQL schema migrations into the binary.
package migrations

import "embed"

// FS holds every *.up.sql and *.down.sql file of this directory, at its root.
//
//go:embed *.sql
var FS embed.FS
