package sizes

import (
	units "github.com/docker/go-units"
	errorspkg "github.com/pkg/errors"
)

const MiB = 1024 * 1024

// Parse converts a size string such as "2G", "100M" or "2048K" to bytes.
// Suffixes are binary (K/M/G) and bare numbers are plain byte counts.
// The result is rounded down to a whole number of MiB, with a floor of
// 1 MiB, so that image sizes always land on a partition-friendly
// boundary.
func Parse(size string) (int64, error) {
	bytes, err := units.RAMInBytes(size)
	if err != nil {
		return 0, errorspkg.Wrapf(err, "invalid size `%s`", size)
	}

	bytes = bytes / MiB * MiB
	if bytes < MiB {
		bytes = MiB
	}

	return bytes, nil
}
