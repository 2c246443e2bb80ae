package web

import "embed"

// DistFS holds the player page served at the site root.
//
//go:embed dist
var DistFS embed.FS
