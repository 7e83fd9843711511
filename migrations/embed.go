// Package migrations 内嵌的 PostgreSQL 迁移脚本。
package migrations

import "embed"

// FS 按文件名顺序执行的 .sql 脚本。
//
//go:embed *.sql
var FS embed.FS
