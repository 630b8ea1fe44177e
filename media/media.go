package media

import (
	"os"

	errorspkg "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Media identifies the target of a partitioning run: either a physical
// block device (/dev/sdb) or a regular file used as a loopback-backed
// disk image. A path that does not exist yet is treated as an image file
// to be created.
type Media struct {
	Path          string
	IsBlockDevice bool
}

func New(path string) (*Media, error) {
	var stat unix.Stat_t
	err := unix.Stat(path, &stat)
	if err != nil {
		if os.IsNotExist(err) {
			return &Media{Path: path}, nil
		}
		return nil, errorspkg.Wrapf(err, "stating media `%s`", path)
	}

	return &Media{
		Path:          path,
		IsBlockDevice: stat.Mode&unix.S_IFMT == unix.S_IFBLK,
	}, nil
}
