// Package migrations embeds the aichat-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
