package db

import (
	"embed"
)

//go:embed schema/*.sql
var Content embed.FS
