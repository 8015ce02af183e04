// Package migrations embeds the schema for every supported database driver.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// For returns the migration files of driver ("postgres" or "sqlite").
func For(driver string) (fs.FS, error) {
	switch driver {
	case "postgres", "sqlite":
		return fs.Sub(files, driver)
	default:
		return nil, fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}
