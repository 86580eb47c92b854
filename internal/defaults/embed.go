// Package defaults embeds the catalogs, network ranges and rules shipped
// with botmon. They are used when the settings directory has no override.
package defaults

import (
	"embed"
	"io/fs"
)

//go:embed *.json
var files embed.FS

// FS returns the embedded settings files
func FS() fs.FS {
	return files
}
