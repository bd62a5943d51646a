// Package migrations embeds the goose migrations for the local key store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
