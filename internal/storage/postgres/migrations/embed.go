// internal/storage/postgres/migrations/embed.go

package migrations

import _ "embed"

// Schema 為可重複執行的 PostgreSQL 資料表定義。
//
//go:embed schema.sql
var Schema string
