package devicecheck

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/lager/v3"
	"github.com/moby/sys/mountinfo"
	errorspkg "github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/linaro/mediacreate/runner"
)

// ErrDeviceBusy is the cause reported when a partition on the target
// device is mounted and cannot be released.
var ErrDeviceBusy = errorspkg.New("device is in use by another process")

// Checker verifies that a block device is safe to repartition. The
// mount table read is injectable so tests do not depend on /proc.
type Checker struct {
	runner *runner.Runner
	output io.Writer

	GetMounts func() ([]*mountinfo.Info, error)
}

func NewChecker(cmdRunner *runner.Runner, output io.Writer) *Checker {
	return &Checker{
		runner: cmdRunner,
		output: output,
		GetMounts: func() ([]*mountinfo.Info, error) {
			return mountinfo.GetMounts(nil)
		},
	}
}

// DeviceExists reports whether path names a block device.
func DeviceExists(path string) bool {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return false
	}
	return stat.Mode&unix.S_IFMT == unix.S_IFBLK
}

// ListDevices writes the kernel's partition listing, for operators to
// double-check the target before anything destructive happens.
func (c *Checker) ListDevices() error {
	contents, err := os.ReadFile("/proc/partitions")
	if err != nil {
		return errorspkg.Wrap(err, "listing devices")
	}

	_, err = c.output.Write(contents)
	return err
}

// EnsureNotInUse makes sure no partition of the given device is mounted,
// unmounting any that are. It announces itself on stdout; that message is
// part of the tool's console contract.
func (c *Checker) EnsureNotInUse(logger lager.Logger, devicePath string) error {
	logger = logger.Session("ensure-not-in-use", lager.Data{"devicePath": devicePath})
	logger.Debug("starting")
	defer logger.Debug("ending")

	fmt.Fprintln(c.output, "Checking that no-one is using this disk right now")

	partitions, err := devicePartitions(devicePath)
	if err != nil {
		return err
	}

	for _, partition := range partitions {
		if err := c.EnsurePartitionNotMounted(logger, partition); err != nil {
			logger.Error("releasing-partition-failed", err, lager.Data{"partition": partition})
			return errorspkg.Wrapf(ErrDeviceBusy, "partition %s: %s", partition, err)
		}
	}

	return nil
}

// EnsurePartitionNotMounted unmounts the given partition device if the
// mount table shows it mounted anywhere.
func (c *Checker) EnsurePartitionNotMounted(logger lager.Logger, partitionDevice string) error {
	mounted, err := c.isMounted(partitionDevice)
	if err != nil {
		return errorspkg.Wrap(err, "reading mount table")
	}
	if !mounted {
		return nil
	}

	if _, err := c.runner.RunAsRoot(logger, "umount", partitionDevice); err != nil {
		return errorspkg.Wrapf(err, "unmounting `%s`", partitionDevice)
	}
	return nil
}

func (c *Checker) isMounted(source string) (bool, error) {
	mounts, err := c.GetMounts()
	if err != nil {
		return false, err
	}

	for _, mount := range mounts {
		if mount.Source == source {
			return true, nil
		}
	}
	return false, nil
}

func devicePartitions(devicePath string) ([]string, error) {
	entries, err := filepath.Glob(devicePath + "*")
	if err != nil {
		return nil, errorspkg.Wrapf(err, "globbing partitions of `%s`", devicePath)
	}

	partitions := []string{}
	for _, entry := range entries {
		if entry != devicePath {
			partitions = append(partitions, entry)
		}
	}
	return partitions, nil
}
