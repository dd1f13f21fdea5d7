package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/kkyr/fig"
)

const EnvPrefix = "DEPTHSTREAM"

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom path to the configuration file,
// when empty the file is optional and searched in the default locations.
// Reads and puts environment variables with the prefix DEPTHSTREAM_.
// Params from the config should be in uppercase separated with _.
func LoadConfig(config any, path string) error {
	dirs := []string{path}
	file := "config.yaml"
	if path == "" {
		dirs = append(dirs, ".", "configs", "../../configs")
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home+"/.depthstream")
		}
	} else if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
		dirs, file = []string{filepath.Dir(path)}, filepath.Base(path)
	}
	err := fig.Load(config, fig.File(file), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
	if errors.Is(err, fig.ErrFileNotFound) && path == "" {
		return LoadConfigEnv(config)
	}
	return err
}

func LoadConfigEnv(config any) error {
	return fig.Load(config, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
}
