package migrations

import "embed"

// Migrations 领取记录表结构迁移
//
//go:embed *.sql
var Migrations embed.FS
