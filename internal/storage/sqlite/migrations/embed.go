// internal/storage/sqlite/migrations/embed.go

package migrations

import "embed"

// FS 內嵌帳務資料表的 SQLite migration。
//
//go:embed *.sql
var FS embed.FS
