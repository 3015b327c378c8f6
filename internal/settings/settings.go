package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// Settings holds machine-local runner configuration.
type Settings struct {
	// Shell is the default shell for run commands. Steps and the
	// workflow can override it per step.
	Shell string `json:"shell"`

	// Image is the image used by containerized jobs whose container
	// spec does not name one. Empty leaves such jobs invalid.
	Image string `json:"image,omitempty"`

	// Env is merged into every step's environment, below workflow and
	// job env in precedence.
	Env map[string]string `json:"env,omitempty"`

	// MaxParallel caps concurrent matrix cells when the workflow does
	// not set its own max-parallel. Zero means unbounded.
	MaxParallel int `json:"maxParallel,omitempty"`
}

// Default returns the settings used when no file is present.
func Default() Settings {
	return Settings{Shell: "sh"}
}

// Load reads the settings file for a repository directory, searching:
//
//  1. <dir>/.gantry/settings.json
//  2. <dir>/gantry.json
//
// A missing file is not an error — defaults are returned. A present but
// malformed file is an error, because silently ignoring a typo'd config
// is worse than failing.
func Load(dir string) (Settings, error) {
	candidates := []string{
		filepath.Join(dir, ".gantry", "settings.json"),
		filepath.Join(dir, "gantry.json"),
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Settings{}, fmt.Errorf("failed to read settings file %s: %w", path, err)
		}

		// Strip comments and trailing commas before handing the bytes
		// to encoding/json.
		clean := jsonc.ToJSON(data)

		s := Default()
		if err := json.Unmarshal(clean, &s); err != nil {
			return Settings{}, fmt.Errorf("failed to parse settings file %s: %w", path, err)
		}
		if s.Shell == "" {
			s.Shell = Default().Shell
		}
		if s.MaxParallel < 0 {
			return Settings{}, fmt.Errorf("settings file %s: maxParallel must not be negative", path)
		}
		return s, nil
	}

	return Default(), nil
}
