package partition

import (
	"strconv"
	"strings"

	"code.cloudfoundry.org/lager/v3"
	errorspkg "github.com/pkg/errors"

	"github.com/linaro/mediacreate/runner"
)

// Loopback exposes a slice of an image file as a block device so that
// mkfs and mount can operate on individual partitions of the image.
type Loopback struct {
	runner *runner.Runner
}

func NewLoopback(cmdRunner *runner.Runner) *Loopback {
	return &Loopback{runner: cmdRunner}
}

// Attach associates the next free loop device with the given byte range
// of the image and returns the loop device path.
func (l *Loopback) Attach(logger lager.Logger, imagePath string, offset, sizeLimit int64) (string, error) {
	logger = logger.Session("loopback-attach", lager.Data{"imagePath": imagePath, "offset": offset, "sizeLimit": sizeLimit})
	logger.Debug("starting")
	defer logger.Debug("ending")

	output, err := l.runner.RunAsRoot(logger,
		"losetup", "-f", "--show", imagePath,
		"--offset", strconv.FormatInt(offset, 10),
		"--sizelimit", strconv.FormatInt(sizeLimit, 10),
	)
	if err != nil {
		return "", errorspkg.Wrapf(err, "attaching loop device to `%s`", imagePath)
	}

	device := strings.TrimSpace(output)
	if device == "" {
		return "", errorspkg.Errorf("losetup returned no device for `%s`", imagePath)
	}
	return device, nil
}

// Detach releases a loop device previously returned by Attach.
func (l *Loopback) Detach(logger lager.Logger, devicePath string) error {
	if _, err := l.runner.RunAsRoot(logger, "losetup", "-d", devicePath); err != nil {
		return errorspkg.Wrapf(err, "detaching loop device `%s`", devicePath)
	}
	return nil
}
