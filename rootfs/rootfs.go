package rootfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"code.cloudfoundry.org/lager/v3"
	errorspkg "github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/linaro/mediacreate/boards"
	"github.com/linaro/mediacreate/runner"
)

const swapFileName = "SWAP.swap"

// PopulateSpec names everything a root filesystem population needs:
// where the unpacked contents live, which partition device to mount
// where, and how the filesystem should announce itself at boot.
type PopulateSpec struct {
	ContentsDir string
	MountPoint  string
	Partition   string

	FSType string
	UUID   string

	CreateSwap  bool
	SwapSizeMiB int64

	MMCDeviceID     int
	PartitionOffset int

	Board boards.Config
}

// Populator moves an unpacked root filesystem onto its partition and
// writes the boot-time configuration the target expects.
type Populator struct {
	runner *runner.Runner
}

func NewPopulator(cmdRunner *runner.Runner) *Populator {
	return &Populator{runner: cmdRunner}
}

// Populate mounts the root partition, moves the contents in, appends
// the fstab entries, optionally creates a swap file and finishes with
// a sync before unmounting.
func (p *Populator) Populate(logger lager.Logger, spec PopulateSpec) error {
	logger = logger.Session("populate-rootfs", lager.Data{
		"partition": spec.Partition, "mountPoint": spec.MountPoint,
	})
	logger.Info("starting")
	defer logger.Info("ending")

	options, err := MountOptions(spec.FSType)
	if err != nil {
		return err
	}

	if _, err := p.runner.RunAsRoot(logger, "mount", spec.Partition, spec.MountPoint); err != nil {
		return errorspkg.Wrapf(err, "mounting `%s` on `%s`", spec.Partition, spec.MountPoint)
	}

	if err := p.populateMounted(logger, spec, options); err != nil {
		if _, umountErr := p.runner.RunAsRoot(logger, "umount", spec.MountPoint); umountErr != nil {
			logger.Error("unmounting-after-failure", umountErr)
		}
		return err
	}

	// flush everything before the partition disappears from under us
	if _, err := p.runner.Run(logger, "sync"); err != nil {
		return errorspkg.Wrap(err, "syncing root filesystem")
	}

	if _, err := p.runner.RunAsRoot(logger, "umount", spec.MountPoint); err != nil {
		return errorspkg.Wrapf(err, "unmounting `%s`", spec.MountPoint)
	}

	return nil
}

func (p *Populator) populateMounted(logger lager.Logger, spec PopulateSpec, mountOptions string) error {
	if err := p.moveContents(logger, spec.ContentsDir, spec.MountPoint); err != nil {
		return err
	}

	fstabAdditions := []string{
		fmt.Sprintf("UUID=%s / %s  %s 0 1", spec.UUID, spec.FSType, mountOptions),
	}

	if spec.CreateSwap {
		if err := p.createSwapFile(logger, spec.MountPoint, spec.SwapSizeMiB); err != nil {
			return err
		}
		fstabAdditions = append(fstabAdditions, "/"+swapFileName+"  none  swap  sw  0 0")
	}

	if err := AppendToFstab(spec.MountPoint, fstabAdditions); err != nil {
		return err
	}

	if err := p.CreateFlashKernelConfig(logger, spec.MountPoint, spec.MMCDeviceID, 1+spec.PartitionOffset); err != nil {
		return err
	}

	return p.UpdateNetworkInterfaces(logger, spec.MountPoint, spec.Board)
}

// moveContents moves every entry of the unpacked directory onto the
// mounted filesystem in a single mv run.
func (p *Populator) moveContents(logger lager.Logger, contentsDir, mountPoint string) error {
	entries, err := os.ReadDir(contentsDir)
	if err != nil {
		return errorspkg.Wrapf(err, "listing contents of `%s`", contentsDir)
	}
	if len(entries) == 0 {
		return nil
	}

	args := []string{"mv"}
	for _, entry := range entries {
		args = append(args, filepath.Join(contentsDir, entry.Name()))
	}
	args = append(args, mountPoint)

	if _, err := p.runner.RunAsRoot(logger, args...); err != nil {
		return errorspkg.Wrapf(err, "moving contents into `%s`", mountPoint)
	}
	return nil
}

func (p *Populator) createSwapFile(logger lager.Logger, mountPoint string, sizeMiB int64) error {
	logger = logger.Session("create-swap-file", lager.Data{"sizeMiB": sizeMiB})
	logger.Info("starting")
	defer logger.Info("ending")

	swapFile := filepath.Join(mountPoint, swapFileName)
	_, err := p.runner.RunAsRoot(logger,
		"dd", "if=/dev/zero", "of="+swapFile, "bs=1M", "count="+strconv.FormatInt(sizeMiB, 10))
	if err != nil {
		return errorspkg.Wrapf(err, "allocating swap file `%s`", swapFile)
	}

	if _, err := p.runner.RunAsRoot(logger, "mkswap", swapFile); err != nil {
		return errorspkg.Wrapf(err, "formatting swap file `%s`", swapFile)
	}
	return nil
}

// CreateFlashKernelConfig tells the target's flash-kernel which device
// holds the boot files.
func (p *Populator) CreateFlashKernelConfig(logger lager.Logger, mountPoint string, mmcDeviceID, bootPartitionNumber int) error {
	data := fmt.Sprintf("UBOOT_PART=/dev/mmcblk%dp%d\n", mmcDeviceID, bootPartitionNumber)
	configPath := filepath.Join(mountPoint, "etc", "flash-kernel.conf")
	return p.WriteProtectedFile(logger, configPath, data)
}

// UpdateNetworkInterfaces appends DHCP stanzas for the board's network
// interfaces to etc/network/interfaces, preserving whatever the rootfs
// already ships there. Boards without interfaces leave the file alone.
func (p *Populator) UpdateNetworkInterfaces(logger lager.Logger, mountPoint string, boardConfig boards.Config) error {
	interfaces := append([]string{}, boardConfig.WiredInterfaces...)
	interfaces = append(interfaces, boardConfig.WirelessInterfaces...)
	if len(interfaces) == 0 {
		return nil
	}

	interfacesPath := filepath.Join(mountPoint, "etc", "network", "interfaces")
	contents := ""
	if existing, err := os.ReadFile(interfacesPath); err == nil {
		contents = string(existing)
	} else if !os.IsNotExist(err) {
		return errorspkg.Wrapf(err, "reading `%s`", interfacesPath)
	}

	var stanzas strings.Builder
	stanzas.WriteString(contents)
	for _, iface := range interfaces {
		fmt.Fprintf(&stanzas, "auto %s\niface %s inet dhcp\n", iface, iface)
	}

	return p.WriteProtectedFile(logger, interfacesPath, stanzas.String())
}

// WriteProtectedFile lands data in a root-owned location by writing a
// temp file as the current user and moving it into place as root.
func (p *Populator) WriteProtectedFile(logger lager.Logger, path, data string) error {
	tmpFile, err := os.CreateTemp("", "mediacreate-")
	if err != nil {
		return errorspkg.Wrap(err, "creating temp file")
	}

	if _, err := tmpFile.WriteString(data); err != nil {
		tmpFile.Close()
		return errorspkg.Wrapf(err, "writing temp file `%s`", tmpFile.Name())
	}
	if err := tmpFile.Close(); err != nil {
		return errorspkg.Wrapf(err, "closing temp file `%s`", tmpFile.Name())
	}

	if _, err := p.runner.RunAsRoot(logger, "mv", "-f", tmpFile.Name(), path); err != nil {
		return errorspkg.Wrapf(err, "moving `%s` to `%s`", tmpFile.Name(), path)
	}
	return nil
}

// MountOptions returns the fstab options for the root filesystem type.
func MountOptions(fsType string) (string, error) {
	switch {
	case fsType == "btrfs":
		return "defaults", nil
	case strings.HasPrefix(fsType, "ext"):
		return "errors=remount-ro", nil
	}
	return "", errorspkg.Errorf("unsupported root filesystem type `%s`", fsType)
}

// AppendToFstab adds the given lines to the mounted filesystem's
// etc/fstab, separated from the existing entries by a blank line.
func AppendToFstab(mountPoint string, additions []string) error {
	fstabPath := filepath.Join(mountPoint, "etc", "fstab")
	fstab, err := os.OpenFile(fstabPath, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errorspkg.Wrapf(err, "opening `%s`", fstabPath)
	}
	defer fstab.Close()

	if _, err := fstab.WriteString("\n" + strings.Join(additions, "\n") + "\n"); err != nil {
		return errorspkg.Wrapf(err, "appending to `%s`", fstabPath)
	}
	return nil
}

// HasSpaceForSwap reports whether the filesystem holding path has room
// for a swap file of the given size.
func HasSpaceForSwap(path string, swapSizeMiB int64) (bool, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return false, errorspkg.Wrapf(err, "statfs `%s`", path)
	}

	spaceLeft := int64(stat.Bavail) * stat.Bsize
	return spaceLeft >= swapSizeMiB*1024*1024, nil
}
