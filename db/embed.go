// Package db provides embedded database schema and migration files.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// Seed is the demo data set loaded into in-memory storage when no seed file
// is configured.
//
//go:embed seed/ledger.json
var Seed []byte
