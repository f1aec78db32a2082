// Package sql holds the goose migrations for the postgres event archive.
package sql

import "embed"

//go:embed *.sql
var Migrations embed.FS
