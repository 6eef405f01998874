package export

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPath is where dump writes when no output file is given:
// $XDG_STATE_HOME/<app>/index.db, created on demand.
func DefaultPath(app string) (string, error) {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		stateHome = filepath.Join(home, ".local", "state")
	}

	dir := filepath.Join(stateHome, app)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return filepath.Join(dir, "index.db"), nil
}
