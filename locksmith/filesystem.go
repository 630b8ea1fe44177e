package locksmith

import (
	"os"
	"path/filepath"
	"strings"

	errorspkg "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FileSystem serializes destructive media operations across processes
// with an exclusive flock on a per-target lock file. The key is the
// media path, so two runs against the same device queue up while runs
// against different devices proceed in parallel.
type FileSystem struct {
	locksDir     string
	FlockSyscall func(fd int, how int) (err error)
}

func NewExclusiveFileSystem(locksDir string) *FileSystem {
	return &FileSystem{
		locksDir:     locksDir,
		FlockSyscall: unix.Flock,
	}
}

func (l *FileSystem) Lock(key string) (*os.File, error) {
	if err := os.MkdirAll(l.locksDir, 0755); err != nil {
		return nil, err
	}

	key = strings.Replace(key, "/", "", -1)
	lockFile, err := os.OpenFile(l.path(key), os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, errorspkg.Wrapf(err, "creating lock file for key `%s`", key)
	}

	fd := int(lockFile.Fd())
	if err := l.FlockSyscall(fd, unix.LOCK_EX); err != nil {
		return nil, err
	}

	return lockFile, nil
}

func (l *FileSystem) Unlock(lockFile *os.File) error {
	defer lockFile.Close()
	fd := int(lockFile.Fd())
	return l.FlockSyscall(fd, unix.LOCK_UN)
}

func (l *FileSystem) path(key string) string {
	return filepath.Join(l.locksDir, key+".lock")
}
