// Package migrations holds the numbered schema scripts for the kv
// database, embedded so a built binary carries its own schema.
package migrations

import "embed"

//go:embed *.sql
var All embed.FS
