package partition

import (
	"fmt"
	"io"
	"os"
	"time"

	"code.cloudfoundry.org/lager/v3"
	errorspkg "github.com/pkg/errors"

	"github.com/linaro/mediacreate/boards"
	"github.com/linaro/mediacreate/devicecheck"
	"github.com/linaro/mediacreate/locksmith"
	"github.com/linaro/mediacreate/media"
	"github.com/linaro/mediacreate/runner"
	"github.com/linaro/mediacreate/sizes"
)

// Options carries the switches of a partitioning run. All three default
// to on for a full image build; partial runs (reflashing a single
// filesystem) disable the steps they want to keep.
type Options struct {
	CreatePartitions bool
	FormatBoot       bool
	FormatRoot       bool
	AlignBootPart    bool
}

// Setup prepares boot and root partitions on an SD card or disk image.
type Setup struct {
	runner   *runner.Runner
	checker  *devicecheck.Checker
	loopback *Loopback
	locks    *locksmith.FileSystem
	output   io.Writer

	// sleep is swappable so tests don't wait out the settle interval.
	sleep func(time.Duration)
}

func NewSetup(cmdRunner *runner.Runner, checker *devicecheck.Checker, locks *locksmith.FileSystem, output io.Writer) *Setup {
	return &Setup{
		runner:   cmdRunner,
		checker:  checker,
		loopback: NewLoopback(cmdRunner),
		locks:    locks,
		output:   output,
		sleep:    time.Sleep,
	}
}

// SetupPartitions partitions the media for the given board and returns
// the boot and root partition device paths. Block devices get real
// partition devices (/dev/sdb1, /dev/sdb2); image files get loopback
// devices covering the partitions' byte ranges.
//
// imageSize is only consulted for image files, where it sets the size
// the image is created or truncated to.
func (s *Setup) SetupPartitions(
	logger lager.Logger,
	boardConfig boards.Config,
	m *media.Media,
	imageSize string,
	bootLabel, rootLabel, rootFSType string,
	opts Options,
) (string, string, error) {
	logger = logger.Session("setup-partitions", lager.Data{
		"path": m.Path, "board": boardConfig.Name, "rootFSType": rootFSType,
	})
	logger.Info("starting")
	defer logger.Info("ending")

	if err := ValidateRootFilesystem(rootFSType); err != nil {
		return "", "", err
	}

	lockFile, err := s.locks.Lock(m.Path)
	if err != nil {
		return "", "", errorspkg.Wrapf(err, "locking media `%s`", m.Path)
	}
	defer s.locks.Unlock(lockFile)

	var cylinders int64
	if m.IsBlockDevice {
		if err := s.checker.EnsureNotInUse(logger, m.Path); err != nil {
			return "", "", err
		}
	} else {
		fmt.Fprintf(s.output, "Warning: %s is not a block device\n", m.Path)

		size, err := sizes.Parse(imageSize)
		if err != nil {
			return "", "", err
		}
		if err := createImageFile(m.Path, size); err != nil {
			return "", "", err
		}
		cylinders = size / (boards.Heads * boards.SectorsPerTrack * boards.SectorSize)
	}

	if opts.CreatePartitions {
		if err := s.createPartitions(logger, boardConfig, m, cylinders, opts.AlignBootPart); err != nil {
			return "", "", err
		}
	}

	bootDevice, rootDevice, cleanup, err := s.bootAndRootDevices(logger, boardConfig, m)
	if err != nil {
		return "", "", err
	}

	if err := s.formatPartitions(logger, boardConfig, m, bootDevice, rootDevice, bootLabel, rootLabel, rootFSType, opts); err != nil {
		cleanup()
		return "", "", err
	}

	return bootDevice, rootDevice, nil
}

// bootAndRootDevices resolves the two partition devices, attaching
// loopback devices when the media is an image file. The returned cleanup
// detaches whatever was attached and is only for the error path; on
// success the caller keeps the devices.
func (s *Setup) bootAndRootDevices(logger lager.Logger, boardConfig boards.Config, m *media.Media) (string, string, func(), error) {
	if m.IsBlockDevice {
		bootDevice := Device(m.Path, 1+boardConfig.MMCPartOffset)
		rootDevice := Device(m.Path, 2+boardConfig.MMCPartOffset)
		return bootDevice, rootDevice, func() {}, nil
	}

	geometry, err := ReadGeometry(m.Path)
	if err != nil {
		return "", "", nil, err
	}

	bootDevice, err := s.loopback.Attach(logger, m.Path, geometry.BootOffset, geometry.BootSize)
	if err != nil {
		return "", "", nil, err
	}

	rootDevice, err := s.loopback.Attach(logger, m.Path, geometry.RootOffset, geometry.RootSize)
	if err != nil {
		if detachErr := s.loopback.Detach(logger, bootDevice); detachErr != nil {
			logger.Error("detaching-boot-loopback-failed", detachErr)
		}
		return "", "", nil, err
	}

	cleanup := func() {
		for _, device := range []string{bootDevice, rootDevice} {
			if err := s.loopback.Detach(logger, device); err != nil {
				logger.Error("detaching-loopback-failed", err, lager.Data{"device": device})
			}
		}
	}
	return bootDevice, rootDevice, cleanup, nil
}

func (s *Setup) formatPartitions(
	logger lager.Logger,
	boardConfig boards.Config,
	m *media.Media,
	bootDevice, rootDevice, bootLabel, rootLabel, rootFSType string,
	opts Options,
) error {
	if m.IsBlockDevice {
		// Freshly attached loopback devices cannot be mounted, but real
		// partitions may be auto-mounted by the desktop between the
		// settle and here.
		for _, device := range []string{bootDevice, rootDevice} {
			if err := s.checker.EnsurePartitionNotMounted(logger, device); err != nil {
				return err
			}
		}
	}

	if opts.FormatBoot {
		if err := s.formatBootPartition(logger, bootDevice, bootLabel, boardConfig.FATSize); err != nil {
			return err
		}
	}

	if opts.FormatRoot {
		if err := s.formatRootPartition(logger, rootDevice, rootLabel, rootFSType); err != nil {
			return err
		}
	}

	return nil
}

// DetachLoopbacks releases the loop devices of an image-file run once
// the caller is done populating the filesystems.
func (s *Setup) DetachLoopbacks(logger lager.Logger, devices ...string) error {
	var firstErr error
	for _, device := range devices {
		if err := s.loopback.Detach(logger, device); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func createImageFile(path string, size int64) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errorspkg.Wrapf(err, "creating image file `%s`", path)
	}
	defer file.Close()

	if err := file.Truncate(size); err != nil {
		return errorspkg.Wrapf(err, "truncating image file `%s` to %d bytes", path, size)
	}
	return nil
}
