package ui

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"car-assistant/internal/history"
)

// WriteImages decodes the answer images of a session into PNG files under
// dir and returns their paths. Files are named <id>-<turn>-<n>.png with the
// colons of the id replaced.
func WriteImages(dir string, s history.Session) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	base := strings.NewReplacer(":", "-", ".", "-").Replace(s.ID)
	var paths []string
	for i, turn := range s.Conversation {
		for n, img := range turn.Images {
			data, err := base64.StdEncoding.DecodeString(img)
			if err != nil {
				return paths, fmt.Errorf("turn %d image %d: %w", i, n, err)
			}
			path := filepath.Join(dir, fmt.Sprintf("%s-%d-%d.png", base, i, n))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return paths, fmt.Errorf("failed to write %s: %w", path, err)
			}
			paths = append(paths, path)
		}
	}
	return paths, nil
}
