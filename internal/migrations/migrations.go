// Package migrations embeds the goose migration sets: sqlite holds the local
// transfer state schema, postgres the shared activity log.
package migrations

import "embed"

//go:embed sqlite/*.sql
var SQLite embed.FS

//go:embed postgres/*.sql
var Postgres embed.FS
