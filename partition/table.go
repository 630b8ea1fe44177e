package partition

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	errorspkg "github.com/pkg/errors"

	"github.com/linaro/mediacreate/boards"
)

const (
	mbrSize            = 512
	mbrSignature       = 0xAA55
	mbrEntriesOffset   = 446
	mbrSignatureOffset = 510
)

const (
	typeFAT16      = 0x0E
	typeFAT32      = 0x0C
	typeFAT32LBA   = 0x0B
	typeExtended   = 0x05
	typeExtendedLB = 0x0F
)

// mbrEntry is one of the four 16-byte primary slots of a master boot
// record, little-endian on disk.
type mbrEntry struct {
	Boot        byte
	StartCHS    [3]byte
	Type        byte
	EndCHS      [3]byte
	StartSector uint32
	Size        uint32
}

// Geometry locates the boot and root partitions inside a partitioned
// image, in bytes from the start of the image. These are the offsets
// and size limits handed to losetup.
type Geometry struct {
	BootOffset int64
	BootSize   int64
	RootOffset int64
	RootSize   int64
}

// ReadGeometry parses the image's MBR and returns the location of the
// FAT boot partition and of the Linux partition immediately following
// it. A leading raw loader partition, when present, is skipped.
func ReadGeometry(imagePath string) (Geometry, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return Geometry{}, errorspkg.Wrapf(err, "opening image `%s`", imagePath)
	}
	defer file.Close()

	sector := make([]byte, mbrSize)
	if _, err := io.ReadFull(file, sector); err != nil {
		return Geometry{}, errorspkg.Wrapf(err, "reading master boot record of `%s`", imagePath)
	}

	if binary.LittleEndian.Uint16(sector[mbrSignatureOffset:]) != mbrSignature {
		return Geometry{}, errorspkg.Errorf("`%s` has no master boot record signature", imagePath)
	}

	var entries [4]mbrEntry
	reader := bytes.NewReader(sector[mbrEntriesOffset:mbrSignatureOffset])
	if err := binary.Read(reader, binary.LittleEndian, &entries); err != nil {
		return Geometry{}, errorspkg.Wrap(err, "parsing partition entries")
	}

	bootIndex := -1
	for i, entry := range entries {
		if entry.Type == typeFAT32 || entry.Type == typeFAT16 || entry.Type == typeFAT32LBA {
			bootIndex = i
			break
		}
	}
	if bootIndex == -1 {
		return Geometry{}, errorspkg.Errorf("no FAT boot partition found on `%s`", imagePath)
	}

	boot := entries[bootIndex]
	for _, entry := range entries[bootIndex+1:] {
		if entry.Size == 0 || entry.Type == typeExtended || entry.Type == typeExtendedLB {
			continue
		}

		return Geometry{
			BootOffset: int64(boot.StartSector) * boards.SectorSize,
			BootSize:   int64(boot.Size) * boards.SectorSize,
			RootOffset: int64(entry.StartSector) * boards.SectorSize,
			RootSize:   int64(entry.Size) * boards.SectorSize,
		}, nil
	}

	return Geometry{}, errorspkg.Errorf("no root partition found after the boot partition on `%s`", imagePath)
}
