// Package migrations embeds the analytics-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
