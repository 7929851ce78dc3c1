package configs

import "embed"

// BookmarkDefaults contains shipped default bookmark YAML files.
//
//go:embed bookmarks/*.yaml
var BookmarkDefaults embed.FS
