package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config file locations. The global file lives under $XDG_CONFIG_HOME (or
// ~/.config), the project file under the project root.
const (
	GlobalConfigDir   = "tether"
	GlobalConfigFile  = "config.yaml"
	ProjectConfigDir  = ".tether"
	ProjectConfigFile = "config.yaml"
)

// configFile is one optional layer of file configuration.
type configFile struct {
	path     string
	required bool
}

// LoadConfig builds the effective configuration. Later layers win:
//
//  1. Default()
//  2. $XDG_CONFIG_HOME/tether/config.yaml
//  3. <project root>/.tether/config.yaml
//  4. the file named by the "config" key (--config or TETHER_CONFIG)
//  5. TETHER_* environment and flags already bound to v
//
// Only the explicit file has to exist. The result is validated.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := Default()

	defaults, err := structToMap(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.MergeConfigMap(defaults); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}

	for _, f := range configFiles(v.GetString("config")) {
		if err := mergeFile(v, f); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg, viperDecodeHook()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// configFiles lists the file layers in merge order.
func configFiles(explicit string) []configFile {
	var files []configFile
	if dir := userConfigDir(); dir != "" {
		files = append(files, configFile{path: filepath.Join(dir, GlobalConfigDir, GlobalConfigFile)})
	}
	root := FindProjectRoot("")
	files = append(files, configFile{path: filepath.Join(root, ProjectConfigDir, ProjectConfigFile)})
	if explicit != "" {
		files = append(files, configFile{path: explicit, required: true})
	}
	return files
}

func userConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

// mergeFile reads one YAML layer into v. A missing optional file is skipped.
func mergeFile(v *viper.Viper, f configFile) error {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) && !f.required {
			return nil
		}
		return fmt.Errorf("open config %s: %w", f.path, err)
	}
	defer func() { _ = file.Close() }()

	layer := viper.New()
	layer.SetConfigType("yaml")
	if err := layer.ReadConfig(file); err != nil {
		return fmt.Errorf("parse config %s: %w", f.path, err)
	}
	return v.MergeConfigMap(layer.AllSettings())
}

func viperDecodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// structToMap flattens cfg into the nested map viper merges, with durations
// in string form so file layers can override them.
func structToMap(cfg *Config) (map[string]any, error) {
	out := make(map[string]any)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     &out,
		DecodeHook: mapstructure.DecodeHookFuncType(durationToString),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return out, nil
}

func durationToString(from, _ reflect.Type, data any) (any, error) {
	if from != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	return data.(time.Duration).String(), nil
}

// WriteYAML writes cfg as YAML in the same shape the loader accepts.
// yaml.v3 renders time.Duration in its string form.
func WriteYAML(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
