// Package migrations embeds the record log schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
