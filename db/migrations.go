// Package db embeds the SQL schema migrations. The same files run on PostgreSQL and SQLite.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the files.
const MigrationsDir = "migrations"
