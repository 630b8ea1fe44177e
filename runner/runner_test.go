package runner_test

import (
	"errors"
	"io"
	"os/exec"

	"code.cloudfoundry.org/commandrunner/fake_command_runner"
	. "code.cloudfoundry.org/commandrunner/fake_command_runner/matchers"
	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagertest"

	runnerpkg "github.com/linaro/mediacreate/runner"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Runner", func() {
	var (
		fakeCommandRunner *fake_command_runner.FakeCommandRunner
		cmdRunner         *runnerpkg.Runner
		logger            lager.Logger
	)

	BeforeEach(func() {
		fakeCommandRunner = fake_command_runner.New()
		cmdRunner = runnerpkg.New(fakeCommandRunner)
		cmdRunner.Geteuid = func() int { return 1000 }

		logger = lagertest.NewTestLogger("runner")
	})

	Describe("Run", func() {
		It("runs the command as the current user", func() {
			_, err := cmdRunner.Run(logger, "sync")
			Expect(err).NotTo(HaveOccurred())

			Expect(fakeCommandRunner).To(HaveExecutedSerially(fake_command_runner.CommandSpec{
				Path: "sync",
			}))
		})

		It("returns the command's combined output", func() {
			fakeCommandRunner.WhenRunning(fake_command_runner.CommandSpec{
				Path: "blkid",
			}, func(cmd *exec.Cmd) error {
				_, err := cmd.Stdout.Write([]byte("ID_FS_UUID=abc\n"))
				Expect(err).NotTo(HaveOccurred())
				_, err = cmd.Stderr.Write([]byte("some warning\n"))
				Expect(err).NotTo(HaveOccurred())
				return nil
			})

			output, err := cmdRunner.Run(logger, "blkid", "/dev/sdz1")
			Expect(err).NotTo(HaveOccurred())

			Expect(output).To(ContainSubstring("ID_FS_UUID=abc"))
			Expect(output).To(ContainSubstring("some warning"))
		})

		Context("when the command fails", func() {
			BeforeEach(func() {
				fakeCommandRunner.WhenRunning(fake_command_runner.CommandSpec{
					Path: "sfdisk",
				}, func(cmd *exec.Cmd) error {
					_, err := cmd.Stderr.Write([]byte("sfdisk: cannot open /dev/sdz"))
					Expect(err).NotTo(HaveOccurred())
					return errors.New("exit status 1")
				})
			})

			It("includes the command line and its output in the error", func() {
				_, err := cmdRunner.Run(logger, "sfdisk", "-l", "/dev/sdz")

				Expect(err).To(MatchError(ContainSubstring("running `sfdisk -l /dev/sdz`")))
				Expect(err).To(MatchError(ContainSubstring("sfdisk: cannot open /dev/sdz")))
			})
		})
	})

	Describe("RunAsRoot", func() {
		It("prefixes the command with sudo when not running as root", func() {
			_, err := cmdRunner.RunAsRoot(logger, "parted", "-s", "/dev/sdz", "mklabel", "msdos")
			Expect(err).NotTo(HaveOccurred())

			Expect(fakeCommandRunner).To(HaveExecutedSerially(fake_command_runner.CommandSpec{
				Path: "sudo",
				Args: []string{"-E", "parted", "-s", "/dev/sdz", "mklabel", "msdos"},
			}))
		})

		Context("when already running as root", func() {
			BeforeEach(func() {
				cmdRunner.Geteuid = func() int { return 0 }
			})

			It("runs the command directly", func() {
				_, err := cmdRunner.RunAsRoot(logger, "parted", "-s", "/dev/sdz", "mklabel", "msdos")
				Expect(err).NotTo(HaveOccurred())

				Expect(fakeCommandRunner).To(HaveExecutedSerially(fake_command_runner.CommandSpec{
					Path: "parted",
					Args: []string{"-s", "/dev/sdz", "mklabel", "msdos"},
				}))
			})
		})
	})

	Describe("RunAsRootWithStdin", func() {
		It("feeds the given string to the command's standard input", func() {
			var stdinContents []byte
			fakeCommandRunner.WhenRunning(fake_command_runner.CommandSpec{
				Path: "sudo",
			}, func(cmd *exec.Cmd) error {
				var err error
				stdinContents, err = io.ReadAll(cmd.Stdin)
				Expect(err).NotTo(HaveOccurred())
				return nil
			})

			_, err := cmdRunner.RunAsRootWithStdin(logger, "63,106432,0x0C,*\n106496,,,-", "sfdisk", "/dev/sdz")
			Expect(err).NotTo(HaveOccurred())

			Expect(string(stdinContents)).To(Equal("63,106432,0x0C,*\n106496,,,-"))
		})
	})
})
