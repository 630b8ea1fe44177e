package unpack

import (
	"archive/tar"
	"bufio"
	"compress/flate"
	"compress/gzip"
	stderrors "errors"
	"io"
	"os"

	"code.cloudfoundry.org/lager/v3"
	errorspkg "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Failure kinds of an unpack run. Callers branch on these with
// errors.Cause / errors.Is rather than string matching.
var (
	ErrNotFound          = errorspkg.New("tarball not found")
	ErrCorruptArchive    = errorspkg.New("corrupt archive")
	ErrPermissionDenied  = errorspkg.New("permission denied")
	ErrInsufficientSpace = errorspkg.New("insufficient space on target filesystem")
)

var gzipMagic = []byte{0x1f, 0x8b}

// UnpackBinaryTarball extracts a (optionally gzip-compressed) tarball
// into the destination directory. Success is silent; failures surface
// as one of the kinds above.
func UnpackBinaryTarball(logger lager.Logger, tarballPath, destinationDir string) error {
	logger = logger.Session("unpack-binary-tarball", lager.Data{"tarballPath": tarballPath, "destinationDir": destinationDir})
	logger.Info("starting")
	defer logger.Info("ending")

	file, err := os.Open(tarballPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errorspkg.Wrapf(ErrNotFound, "`%s`", tarballPath)
		}
		return classify(errorspkg.Wrapf(err, "opening tarball `%s`", tarballPath))
	}
	defer file.Close()

	stream, err := decompressed(file)
	if err != nil {
		return err
	}

	return NewTarUnpacker().Unpack(logger, UnpackSpec{
		Stream:     stream,
		TargetPath: destinationDir,
	})
}

// decompressed sniffs the gzip magic and wraps the stream accordingly,
// so .tar and .tar.gz inputs are both accepted.
func decompressed(file *os.File) (io.Reader, error) {
	buffered := bufio.NewReader(file)

	magic, err := buffered.Peek(len(gzipMagic))
	if err != nil {
		return nil, errorspkg.Wrapf(ErrCorruptArchive, "archive too short: %s", err)
	}

	if magic[0] != gzipMagic[0] || magic[1] != gzipMagic[1] {
		return buffered, nil
	}

	gzipReader, err := gzip.NewReader(buffered)
	if err != nil {
		return nil, errorspkg.Wrapf(ErrCorruptArchive, "reading gzip header: %s", err)
	}
	return gzipReader, nil
}

// classify maps low-level failures onto the package's error kinds,
// keeping the original message as context.
func classify(err error) error {
	cause := errorspkg.Cause(err)

	switch {
	case os.IsPermission(cause):
		return errorspkg.Wrapf(ErrPermissionDenied, "%s", err)
	case isNoSpace(cause):
		return errorspkg.Wrapf(ErrInsufficientSpace, "%s", err)
	case isCorrupt(cause):
		return errorspkg.Wrapf(ErrCorruptArchive, "%s", err)
	}

	// os wrappers around syscall errors need unwrapping by hand since
	// pkg/errors chains stop at the first non-causer.
	var pathErr *os.PathError
	if stderrors.As(err, &pathErr) {
		if pathErr.Err == unix.ENOSPC || pathErr.Err == unix.EDQUOT {
			return errorspkg.Wrapf(ErrInsufficientSpace, "%s", err)
		}
		if os.IsPermission(pathErr) {
			return errorspkg.Wrapf(ErrPermissionDenied, "%s", err)
		}
	}

	return err
}

func isNoSpace(err error) bool {
	return stderrors.Is(err, unix.ENOSPC) || stderrors.Is(err, unix.EDQUOT)
}

func isCorrupt(err error) bool {
	for _, kind := range []error{tar.ErrHeader, gzip.ErrHeader, gzip.ErrChecksum, io.ErrUnexpectedEOF} {
		if stderrors.Is(err, kind) {
			return true
		}
	}
	var flateErr flate.CorruptInputError
	return stderrors.As(err, &flateErr)
}
