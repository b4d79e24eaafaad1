// Package db embeds the commerce schema applied at startup.
package db

import _ "embed"

// Schema holds the DDL for the catalog, stock, coupon, order, and payment
// tables. RunMigrations executes it verbatim; every statement must stay
// idempotent (CREATE ... IF NOT EXISTS).
//
//go:embed migrations/001_schema.sql
var Schema string
