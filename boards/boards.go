package boards

import (
	"fmt"
	"sort"

	errorspkg "github.com/pkg/errors"
)

// Disk geometry used for all supported boards. Older OMAP3 boot ROMs
// restrict the BIOS geometry sfdisk may assume, hence the fixed
// heads/sectors values.
const (
	SectorSize      = 512
	Heads           = 128
	SectorsPerTrack = 32

	// Start sector of the boot partition when 4 MiB alignment is
	// requested, and of the root partition that follows it (+56 MiB).
	AlignedBootStart = 4 * 1024 * 1024 / SectorSize
	AlignedRootStart = 56 * 1024 * 1024 / SectorSize

	// Without alignment the boot partition starts right after the MBR
	// and the root partition on the next 4 MiB boundary past +52 MiB.
	UnalignedBootStart = 63
	UnalignedRootStart = 52 * 1024 * 1024 / SectorSize
)

const (
	loaderPartitionType = "0xDA"
	fat32PartitionType  = "0x0C"
	fat16PartitionType  = "0x0E"
)

// Config carries the partition-relevant profile of a board. Bootloader
// file handling is out of scope here; boards only influence how the
// media is partitioned and how partitions are numbered.
type Config struct {
	Name string

	// FATSize selects the boot partition filesystem: 32 for FAT32
	// (partition type 0x0C), 16 for FAT16 (0x0E).
	FATSize int

	// LoaderStart, when non-zero, is the start sector of a raw
	// bootloader partition (type 0xDA) preceding the boot partition.
	LoaderStart int64

	// MMCPartOffset shifts partition numbering when a loader partition
	// occupies the first slot.
	MMCPartOffset int

	// Network interfaces to bring up with DHCP on first boot. Empty for
	// the stock profiles; custom profiles fill these in.
	WiredInterfaces    []string
	WirelessInterfaces []string
}

func (c Config) bootPartitionType() string {
	if c.FATSize == 16 {
		return fat16PartitionType
	}
	return fat32PartitionType
}

// SfdiskLayout returns the sfdisk input describing this board's
// partition scheme: an optional raw loader partition, a bootable FAT
// boot partition and a root partition filling the remaining space.
// Fields are start,size,type in units of 512-byte sectors.
func (c Config) SfdiskLayout(alignBootPart bool) string {
	if c.LoaderStart != 0 {
		return fmt.Sprintf("%d,%d,%s\n%d,%d,%s,*\n%d,,,-",
			c.LoaderStart, AlignedBootStart-c.LoaderStart, loaderPartitionType,
			AlignedBootStart, AlignedRootStart-AlignedBootStart, c.bootPartitionType(),
			AlignedRootStart)
	}

	if alignBootPart {
		return fmt.Sprintf("%d,%d,%s,*\n%d,,,-",
			AlignedBootStart, AlignedRootStart-AlignedBootStart, c.bootPartitionType(),
			AlignedRootStart)
	}

	// One sector is lost to DOS-compatible rounding when the boot
	// partition does not start on a 4 MiB boundary.
	return fmt.Sprintf("%d,%d,%s,*\n%d,,,-",
		UnalignedBootStart, UnalignedRootStart-UnalignedBootStart-1, c.bootPartitionType(),
		UnalignedRootStart)
}

var registry = map[string]Config{
	"beagle":        {Name: "beagle", FATSize: 32},
	"igep":          {Name: "igep", FATSize: 32},
	"panda":         {Name: "panda", FATSize: 32},
	"overo":         {Name: "overo", FATSize: 32},
	"ux500":         {Name: "ux500", FATSize: 32},
	"snowball-sd":   {Name: "snowball-sd", FATSize: 32},
	"vexpress":      {Name: "vexpress", FATSize: 16},
	"mx5":           {Name: "mx5", FATSize: 32, LoaderStart: 1, MMCPartOffset: 1},
	"smdkv310":      {Name: "smdkv310", FATSize: 32, LoaderStart: 1, MMCPartOffset: 1},
	"origen":        {Name: "origen", FATSize: 32, LoaderStart: 1, MMCPartOffset: 1},
	"snowball-emmc": {Name: "snowball-emmc", FATSize: 32, LoaderStart: 256, MMCPartOffset: 1},
}

// Get looks a board profile up by name.
func Get(name string) (Config, error) {
	config, ok := registry[name]
	if !ok {
		return Config{}, errorspkg.Errorf("unknown board `%s`", name)
	}
	return config, nil
}

// Names returns the names of all supported boards, sorted.
func Names() []string {
	names := []string{}
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
