package sql

import _ "embed"

// Schema creates the tables of the SQLite backend. Every statement is
// idempotent.
//
//go:embed schema.sql
var Schema string
