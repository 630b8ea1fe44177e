package config_test

import (
	"os"
	"path/filepath"

	"github.com/linaro/mediacreate/config"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Load", func() {
	var configFilePath string

	BeforeEach(func() {
		tempDir, err := os.MkdirTemp("", "config")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			Expect(os.RemoveAll(tempDir)).To(Succeed())
		})

		configFilePath = filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(configFilePath, []byte(
			"boot_label: BOOT\n"+
				"root_label: linaro-root\n"+
				"root_filesystem: ext4\n"+
				"image_size: 4G\n"+
				"swap_size: 100M\n"+
				"align_boot_part: true\n"+
				"locks_dir_path: /var/lock/mediacreate\n"), 0644)).To(Succeed())
	})

	It("parses the yaml fields", func() {
		cfg, err := config.Load(configFilePath)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.BootLabel).To(Equal("BOOT"))
		Expect(cfg.RootLabel).To(Equal("linaro-root"))
		Expect(cfg.RootFilesystem).To(Equal("ext4"))
		Expect(cfg.ImageSize).To(Equal("4G"))
		Expect(cfg.SwapSize).To(Equal("100M"))
		Expect(cfg.AlignBootPart).To(BeTrue())
		Expect(cfg.LocksDirPath).To(Equal("/var/lock/mediacreate"))
	})

	Context("when the config path does not exist", func() {
		It("returns an error", func() {
			_, err := config.Load("/invalid/path")
			Expect(err).To(MatchError(ContainSubstring("invalid config path")))
		})
	})

	Context("when the config is not valid yaml", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(configFilePath, []byte("{not yaml"), 0644)).To(Succeed())
		})

		It("returns an error", func() {
			_, err := config.Load(configFilePath)
			Expect(err).To(MatchError(ContainSubstring("invalid config file")))
		})
	})
})
