// Package migrations embeds the billing-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
