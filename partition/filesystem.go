package partition

import (
	"strconv"
	"strings"

	"code.cloudfoundry.org/lager/v3"
	uuidpkg "github.com/google/uuid"
	errorspkg "github.com/pkg/errors"
)

// ErrUnsupportedFilesystem is the cause reported for root filesystem
// types mkfs cannot be asked to create here.
var ErrUnsupportedFilesystem = errorspkg.New("unsupported root filesystem type")

var supportedRootFilesystems = map[string]bool{
	"ext2":  true,
	"ext3":  true,
	"ext4":  true,
	"btrfs": true,
}

// ValidateRootFilesystem rejects root filesystem types outside the set
// the boot configuration machinery knows how to handle.
func ValidateRootFilesystem(fsType string) error {
	if !supportedRootFilesystems[fsType] {
		return errorspkg.Wrapf(ErrUnsupportedFilesystem, "`%s`", fsType)
	}
	return nil
}

func (s *Setup) formatBootPartition(logger lager.Logger, device, label string, fatSize int) error {
	logger = logger.Session("format-boot-partition", lager.Data{"device": device, "label": label})
	logger.Info("starting")
	defer logger.Info("ending")

	if _, err := s.runner.RunAsRoot(logger, "mkfs.vfat", "-F", strconv.Itoa(fatSize), device, "-n", label); err != nil {
		return errorspkg.Wrapf(err, "formatting boot partition `%s`", device)
	}
	return nil
}

func (s *Setup) formatRootPartition(logger lager.Logger, device, label, fsType string) error {
	logger = logger.Session("format-root-partition", lager.Data{"device": device, "label": label, "fsType": fsType})
	logger.Info("starting")
	defer logger.Info("ending")

	if err := ValidateRootFilesystem(fsType); err != nil {
		return err
	}

	if _, err := s.runner.RunAsRoot(logger, "mkfs."+fsType, device, "-L", label); err != nil {
		return errorspkg.Wrapf(err, "formatting root partition `%s`", device)
	}
	return nil
}

// GetUUID returns the filesystem UUID of a formatted partition, as the
// kernel will see it from the root= boot argument.
func (s *Setup) GetUUID(logger lager.Logger, device string) (string, error) {
	logger = logger.Session("get-uuid", lager.Data{"device": device})
	logger.Debug("starting")
	defer logger.Debug("ending")

	output, err := s.runner.RunAsRoot(logger, "blkid", "-o", "udev", "-p", "-c", "/dev/null", device)
	if err != nil {
		return "", errorspkg.Wrapf(err, "probing `%s`", device)
	}

	return parseBlkidOutput(output)
}

func parseBlkidOutput(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "ID_FS_UUID=") {
			continue
		}

		value := strings.TrimPrefix(line, "ID_FS_UUID=")
		if _, err := uuidpkg.Parse(value); err != nil {
			return "", errorspkg.Wrapf(err, "blkid reported a malformed UUID `%s`", value)
		}
		return value, nil
	}

	return "", errorspkg.New("no ID_FS_UUID in blkid output")
}
