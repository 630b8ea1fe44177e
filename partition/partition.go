package partition

import (
	"strconv"
	"time"
	"unicode"

	"code.cloudfoundry.org/lager/v3"
	errorspkg "github.com/pkg/errors"

	"github.com/linaro/mediacreate/boards"
	"github.com/linaro/mediacreate/media"
)

const (
	settleCheckInterval = 1 * time.Second
	settleTries         = 5
)

// Device returns the device file of the numbered partition on a disk.
// Disks whose name ends in a digit (mmcblk0, loop3, nvme0n1) separate
// the partition number with a "p".
func Device(diskPath string, number int) string {
	runes := []rune(diskPath)
	if len(runes) > 0 && unicode.IsDigit(runes[len(runes)-1]) {
		return diskPath + "p" + strconv.Itoa(number)
	}
	return diskPath + strconv.Itoa(number)
}

// createPartitions writes the board's partition scheme to the media.
// Everything happens in a single sfdisk run: sfdisk rewrites the whole
// table each time, so incremental invocations would erase earlier
// partitions.
func (s *Setup) createPartitions(logger lager.Logger, boardConfig boards.Config, m *media.Media, cylinders int64, alignBootPart bool) error {
	logger = logger.Session("create-partitions", lager.Data{"path": m.Path, "board": boardConfig.Name})
	logger.Info("starting")
	defer logger.Info("ending")

	if m.IsBlockDevice {
		// Overwrite any existing partition table so sfdisk starts from a
		// clean msdos label. Image files are freshly truncated and have
		// nothing to clear.
		if _, err := s.runner.RunAsRoot(logger, "parted", "-s", m.Path, "mklabel", "msdos"); err != nil {
			return errorspkg.Wrapf(err, "clearing partition table on `%s`", m.Path)
		}
	}

	if err := s.waitPartitionToSettle(logger, m.Path); err != nil {
		return err
	}

	layout := boardConfig.SfdiskLayout(alignBootPart)
	if err := s.runSfdisk(logger, layout, cylinders, m.Path); err != nil {
		return err
	}

	if _, err := s.runner.Run(logger, "sync"); err != nil {
		return errorspkg.Wrap(err, "syncing partition table")
	}

	return s.waitPartitionToSettle(logger, m.Path)
}

func (s *Setup) runSfdisk(logger lager.Logger, layout string, cylinders int64, path string) error {
	args := []string{
		"sfdisk", "--force", "-D", "-uS",
		"-H", strconv.Itoa(boards.Heads),
		"-S", strconv.Itoa(boards.SectorsPerTrack),
	}
	if cylinders > 0 {
		args = append(args, "-C", strconv.FormatInt(cylinders, 10))
	}
	args = append(args, path)

	if _, err := s.runner.RunAsRootWithStdin(logger, layout, args...); err != nil {
		return errorspkg.Wrapf(err, "partitioning `%s`", path)
	}
	return nil
}

// waitPartitionToSettle polls the partition table until the kernel has
// caught up with it. Right after (re)partitioning, sfdisk -l can fail
// for a few seconds while udev re-reads the device.
func (s *Setup) waitPartitionToSettle(logger lager.Logger, path string) error {
	logger = logger.Session("wait-partition-to-settle", lager.Data{"path": path})
	logger.Debug("starting")
	defer logger.Debug("ending")

	var err error
	for i := 0; i < settleTries; i++ {
		if _, err = s.runner.RunAsRoot(logger, "sfdisk", "-l", path); err == nil {
			return nil
		}
		logger.Debug("table-not-settled-yet", lager.Data{"attempt": i + 1})
		s.sleep(settleCheckInterval)
	}

	return errorspkg.Wrapf(err, "partition table of `%s` did not settle", path)
}
