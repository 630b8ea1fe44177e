package config

import (
	"os"

	errorspkg "github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config carries the run defaults a media build starts from. Every
// field can be overridden through the Builder.
type Config struct {
	BootLabel      string `yaml:"boot_label"`
	RootLabel      string `yaml:"root_label"`
	RootFilesystem string `yaml:"root_filesystem"`
	ImageSize      string `yaml:"image_size"`
	SwapSize       string `yaml:"swap_size"`
	AlignBootPart  bool   `yaml:"align_boot_part"`
	LocksDirPath   string `yaml:"locks_dir_path"`
}

func Load(configPath string) (Config, error) {
	configContent, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, errorspkg.Wrap(err, "invalid config path")
	}

	var config Config
	if err := yaml.Unmarshal(configContent, &config); err != nil {
		return Config{}, errorspkg.Wrap(err, "invalid config file")
	}

	return config, nil
}
