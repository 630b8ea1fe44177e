package partition_test

import (
	"github.com/linaro/mediacreate/partition"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Device", func() {
	It("appends the partition number for disks named after letters", func() {
		Expect(partition.Device("/dev/sdb", 1)).To(Equal("/dev/sdb1"))
		Expect(partition.Device("/dev/sdb", 2)).To(Equal("/dev/sdb2"))
	})

	It("separates the partition number with a p for disks named after digits", func() {
		Expect(partition.Device("/dev/mmcblk0", 1)).To(Equal("/dev/mmcblk0p1"))
		Expect(partition.Device("/dev/loop3", 2)).To(Equal("/dev/loop3p2"))
		Expect(partition.Device("/dev/nvme0n1", 1)).To(Equal("/dev/nvme0n1p1"))
	})
})
