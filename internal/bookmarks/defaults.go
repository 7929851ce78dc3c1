package bookmarks

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/user/telterm/configs"
)

func ensureDefaults(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read bookmarks dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isYAML(entry.Name()) {
			return nil
		}
	}

	defaults, err := fs.ReadDir(configs.BookmarkDefaults, "bookmarks")
	if err != nil {
		return fmt.Errorf("read embedded bookmarks: %w", err)
	}
	for _, entry := range defaults {
		content, err := configs.BookmarkDefaults.ReadFile(path.Join("bookmarks", entry.Name()))
		if err != nil {
			return fmt.Errorf("read embedded default %q: %w", entry.Name(), err)
		}
		dst := filepath.Join(dir, entry.Name())
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return fmt.Errorf("write default %q: %w", dst, err)
		}
	}

	return nil
}

func isYAML(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
