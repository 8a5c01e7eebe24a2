// Package migrations embeds the SQL files that define the bot's SQLite schema.
package migrations

import "embed"

// FS holds the embedded up/down migration pairs, numbered in apply order.
//
//go:embed *.sql
var FS embed.FS
