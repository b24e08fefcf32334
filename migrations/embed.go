// Package migrations holds the Postgres schema of the status event log.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
