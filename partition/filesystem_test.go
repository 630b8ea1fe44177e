package partition_test

import (
	"bytes"
	"errors"
	"os/exec"
	"path/filepath"

	"code.cloudfoundry.org/commandrunner/fake_command_runner"
	. "code.cloudfoundry.org/commandrunner/fake_command_runner/matchers"
	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagertest"

	"github.com/linaro/mediacreate/devicecheck"
	"github.com/linaro/mediacreate/locksmith"
	"github.com/linaro/mediacreate/partition"
	runnerpkg "github.com/linaro/mediacreate/runner"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Filesystem", func() {
	Describe("ValidateRootFilesystem", func() {
		It("accepts the filesystems the boot configuration understands", func() {
			for _, fsType := range []string{"ext2", "ext3", "ext4", "btrfs"} {
				Expect(partition.ValidateRootFilesystem(fsType)).To(Succeed())
			}
		})

		It("rejects everything else", func() {
			for _, fsType := range []string{"ntfs", "vfat", "xfs", ""} {
				err := partition.ValidateRootFilesystem(fsType)
				Expect(errors.Is(err, partition.ErrUnsupportedFilesystem)).To(BeTrue())
			}
		})
	})

	Describe("GetUUID", func() {
		var (
			fakeCommandRunner *fake_command_runner.FakeCommandRunner
			setup             *partition.Setup
			logger            lager.Logger
		)

		BeforeEach(func() {
			fakeCommandRunner = fake_command_runner.New()

			cmdRunner := runnerpkg.New(fakeCommandRunner)
			cmdRunner.Geteuid = func() int { return 0 }

			checker := devicecheck.NewChecker(cmdRunner, bytes.NewBuffer([]byte{}))
			locks := locksmith.NewExclusiveFileSystem(filepath.Join(GinkgoT().TempDir(), "locks"))
			setup = partition.NewSetup(cmdRunner, checker, locks, bytes.NewBuffer([]byte{}))

			logger = lagertest.NewTestLogger("filesystem")
		})

		It("probes the device with blkid and returns the filesystem UUID", func() {
			fakeCommandRunner.WhenRunning(fake_command_runner.CommandSpec{
				Path: "blkid",
			}, func(cmd *exec.Cmd) error {
				_, err := cmd.Stdout.Write([]byte(
					"ID_FS_LABEL=rootfs\n" +
						"ID_FS_UUID=67d4ffd6-4a69-4ba1-bd9d-e49ee1c8354f\n" +
						"ID_FS_TYPE=ext3\n"))
				return err
			})

			uuid, err := setup.GetUUID(logger, "/dev/sdz2")
			Expect(err).NotTo(HaveOccurred())

			Expect(uuid).To(Equal("67d4ffd6-4a69-4ba1-bd9d-e49ee1c8354f"))
			Expect(fakeCommandRunner).To(HaveExecutedSerially(fake_command_runner.CommandSpec{
				Path: "blkid",
				Args: []string{"-o", "udev", "-p", "-c", "/dev/null", "/dev/sdz2"},
			}))
		})

		It("errors when blkid reports a malformed UUID", func() {
			fakeCommandRunner.WhenRunning(fake_command_runner.CommandSpec{
				Path: "blkid",
			}, func(cmd *exec.Cmd) error {
				_, err := cmd.Stdout.Write([]byte("ID_FS_UUID=not-a-uuid\n"))
				return err
			})

			_, err := setup.GetUUID(logger, "/dev/sdz2")
			Expect(err).To(MatchError(ContainSubstring("malformed UUID")))
		})

		It("errors when blkid reports no UUID at all", func() {
			fakeCommandRunner.WhenRunning(fake_command_runner.CommandSpec{
				Path: "blkid",
			}, func(cmd *exec.Cmd) error {
				_, err := cmd.Stdout.Write([]byte("ID_FS_TYPE=ext3\n"))
				return err
			})

			_, err := setup.GetUUID(logger, "/dev/sdz2")
			Expect(err).To(MatchError(ContainSubstring("no ID_FS_UUID")))
		})

		It("errors when probing fails", func() {
			fakeCommandRunner.WhenRunning(fake_command_runner.CommandSpec{
				Path: "blkid",
			}, func(cmd *exec.Cmd) error {
				return errors.New("exit status 2")
			})

			_, err := setup.GetUUID(logger, "/dev/sdz2")
			Expect(err).To(MatchError(ContainSubstring("probing `/dev/sdz2`")))
		})
	})
})
