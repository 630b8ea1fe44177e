package config

import (
	errorspkg "github.com/pkg/errors"

	"github.com/linaro/mediacreate/partition"
)

const (
	DefaultBootLabel      = "boot"
	DefaultRootLabel      = "rootfs"
	DefaultRootFilesystem = "ext3"
	DefaultImageSize      = "2G"
	DefaultLocksDirPath   = "/tmp/mediacreate-locks"
)

type Builder struct {
	config *Config
}

func NewBuilder() *Builder {
	return &Builder{
		config: &Config{
			BootLabel:      DefaultBootLabel,
			RootLabel:      DefaultRootLabel,
			RootFilesystem: DefaultRootFilesystem,
			ImageSize:      DefaultImageSize,
			LocksDirPath:   DefaultLocksDirPath,
		},
	}
}

func NewBuilderFromFile(pathToYaml string) (*Builder, error) {
	loaded, err := Load(pathToYaml)
	if err != nil {
		return nil, err
	}

	builder := NewBuilder()
	builder.
		WithBootLabel(loaded.BootLabel).
		WithRootLabel(loaded.RootLabel).
		WithRootFilesystem(loaded.RootFilesystem).
		WithImageSize(loaded.ImageSize).
		WithSwapSize(loaded.SwapSize).
		WithLocksDirPath(loaded.LocksDirPath)
	builder.config.AlignBootPart = loaded.AlignBootPart
	return builder, nil
}

func (b *Builder) Build() (Config, error) {
	if err := partition.ValidateRootFilesystem(b.config.RootFilesystem); err != nil {
		return Config{}, errorspkg.Wrap(err, "invalid config")
	}
	return *b.config, nil
}

func (b *Builder) WithBootLabel(label string) *Builder {
	if label != "" {
		b.config.BootLabel = label
	}
	return b
}

func (b *Builder) WithRootLabel(label string) *Builder {
	if label != "" {
		b.config.RootLabel = label
	}
	return b
}

func (b *Builder) WithRootFilesystem(fsType string) *Builder {
	if fsType != "" {
		b.config.RootFilesystem = fsType
	}
	return b
}

func (b *Builder) WithImageSize(size string) *Builder {
	if size != "" {
		b.config.ImageSize = size
	}
	return b
}

func (b *Builder) WithSwapSize(size string) *Builder {
	if size != "" {
		b.config.SwapSize = size
	}
	return b
}

func (b *Builder) WithAlignBootPart(align bool) *Builder {
	b.config.AlignBootPart = align
	return b
}

func (b *Builder) WithLocksDirPath(path string) *Builder {
	if path != "" {
		b.config.LocksDirPath = path
	}
	return b
}
