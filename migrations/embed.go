// Package migrations holds the ordered SQL files that build the schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
