// Package migrations embeds the SQL applied by cmd/migrate.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed master/*.sql tenant/*.sql
var files embed.FS

// Master returns the migrations of the tenant registry database.
func Master() fs.FS {
	sub, err := fs.Sub(files, "master")
	if err != nil {
		panic(err)
	}
	return sub
}

// Tenant returns the migrations applied to every clinic database.
func Tenant() fs.FS {
	sub, err := fs.Sub(files, "tenant")
	if err != nil {
		panic(err)
	}
	return sub
}
