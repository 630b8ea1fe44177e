package unpack

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/lager/v3"
	errorspkg "github.com/pkg/errors"
)

// UnpackSpec names a tar stream and the directory its contents land in.
type UnpackSpec struct {
	Stream     io.Reader
	TargetPath string
}

// TarUnpacker extracts a binary tarball onto a mounted filesystem,
// preserving modes, modtimes and (when running as root) ownership.
type TarUnpacker struct{}

func NewTarUnpacker() *TarUnpacker {
	return &TarUnpacker{}
}

func (u *TarUnpacker) Unpack(logger lager.Logger, spec UnpackSpec) error {
	logger = logger.Session("unpacking-with-tar", lager.Data{"targetPath": spec.TargetPath})
	logger.Info("starting")
	defer logger.Info("ending")

	if _, err := os.Stat(spec.TargetPath); err != nil {
		if err := os.Mkdir(spec.TargetPath, 0755); err != nil {
			return classify(errorspkg.Wrapf(err, "making destination directory `%s`", spec.TargetPath))
		}
	}

	tarReader := tar.NewReader(spec.Stream)
	for {
		tarHeader, err := tarReader.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return classify(errorspkg.Wrap(err, "reading tar header"))
		}

		entryPath := filepath.Join(spec.TargetPath, tarHeader.Name)
		if err := u.handleEntry(spec.TargetPath, entryPath, tarReader, tarHeader); err != nil {
			return classify(err)
		}
	}

	return nil
}

func (u *TarUnpacker) handleEntry(targetPath, entryPath string, tarReader *tar.Reader, tarHeader *tar.Header) error {
	switch tarHeader.Typeflag {
	case tar.TypeBlock, tar.TypeChar:
		// device nodes are not ours to create
		return nil

	case tar.TypeLink:
		return u.createLink(targetPath, entryPath, tarHeader)

	case tar.TypeSymlink:
		return u.createSymlink(entryPath, tarHeader)

	case tar.TypeDir:
		return u.createDirectory(entryPath, tarHeader)

	case tar.TypeReg:
		return u.createRegularFile(entryPath, tarHeader, tarReader)
	}

	return nil
}

func (u *TarUnpacker) createDirectory(path string, tarHeader *tar.Header) error {
	if _, err := os.Stat(path); err != nil {
		if err = os.Mkdir(path, tarHeader.FileInfo().Mode()); err != nil {
			return errorspkg.Wrapf(err, "creating directory `%s`", path)
		}
	}

	if os.Getuid() == 0 {
		if err := os.Chown(path, tarHeader.Uid, tarHeader.Gid); err != nil {
			return errorspkg.Wrapf(err, "chowning directory %d:%d `%s`", tarHeader.Uid, tarHeader.Gid, path)
		}
	}

	// we need to explicitly apply perms because mkdir is subject to umask
	if err := os.Chmod(path, tarHeader.FileInfo().Mode()); err != nil {
		return errorspkg.Wrapf(err, "chmoding directory `%s`", path)
	}

	if err := os.Chtimes(path, tarHeader.ModTime, tarHeader.ModTime); err != nil {
		return errorspkg.Wrapf(err, "setting the modtime for directory `%s`", path)
	}

	return nil
}

func (u *TarUnpacker) createSymlink(path string, tarHeader *tar.Header) error {
	if _, err := os.Lstat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return errorspkg.Wrapf(err, "removing file `%s`", path)
		}
	}

	if err := os.Symlink(tarHeader.Linkname, path); err != nil {
		return errorspkg.Wrapf(err, "create symlink `%s` -> `%s`", tarHeader.Linkname, path)
	}

	return nil
}

func (u *TarUnpacker) createLink(targetPath, path string, tarHeader *tar.Header) error {
	return os.Link(filepath.Join(targetPath, tarHeader.Linkname), path)
}

func (u *TarUnpacker) createRegularFile(path string, tarHeader *tar.Header, tarReader *tar.Reader) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, tarHeader.FileInfo().Mode())
	if err != nil {
		return errorspkg.Wrapf(err, "creating file `%s`", path)
	}

	if _, err := io.Copy(file, tarReader); err != nil {
		file.Close()
		return errorspkg.Wrapf(err, "writing to file `%s`", path)
	}

	if err := file.Close(); err != nil {
		return errorspkg.Wrapf(err, "closing file `%s`", path)
	}

	if os.Getuid() == 0 {
		if err := os.Chown(path, tarHeader.Uid, tarHeader.Gid); err != nil {
			return errorspkg.Wrapf(err, "chowning file %d:%d `%s`", tarHeader.Uid, tarHeader.Gid, path)
		}
	}

	// we need to explicitly apply perms because open is subject to umask
	if err := os.Chmod(path, tarHeader.FileInfo().Mode()); err != nil {
		return errorspkg.Wrapf(err, "chmoding file `%s`", path)
	}

	if err := os.Chtimes(path, tarHeader.ModTime, tarHeader.ModTime); err != nil {
		return errorspkg.Wrapf(err, "setting the modtime for file `%s`", path)
	}

	return nil
}
