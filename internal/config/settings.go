package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// settingsExts are tried in order for settings.<ext>
var settingsExts = []string{"yaml", "yml", "json", "toml", "ini"}

// findSettings returns the first settings file found in paths, or "".
func findSettings(paths []string) string {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, dir := range paths {
		for _, ext := range settingsExts {
			candidate := filepath.Join(dir, "settings."+ext)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
	}
	return ""
}

// readSettings merges file into v. INI files use [Section] key = value,
// addressed as section.key.
func readSettings(v *viper.Viper, file string) error {
	if strings.EqualFold(filepath.Ext(file), ".ini") {
		values, err := readINI(file)
		if err != nil {
			return err
		}
		if err := v.MergeConfigMap(values); err != nil {
			return fmt.Errorf("read settings %s: %w", file, err)
		}
		return nil
	}

	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read settings %s: %w", file, err)
	}
	return nil
}

func readINI(file string) (map[string]any, error) {
	f, err := ini.Load(file)
	if err != nil {
		return nil, fmt.Errorf("read settings %s: %w", file, err)
	}

	out := make(map[string]any)
	for _, section := range f.Sections() {
		keys := section.Keys()
		if len(keys) == 0 {
			continue
		}
		values := make(map[string]any, len(keys))
		for _, key := range keys {
			values[strings.ToLower(key.Name())] = key.Value()
		}
		if section.Name() == ini.DefaultSection {
			for k, val := range values {
				out[k] = val
			}
			continue
		}
		out[strings.ToLower(section.Name())] = values
	}
	return out, nil
}
