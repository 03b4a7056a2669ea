// Package ide models the block device's sector-level interface consumed
// by the swap engine. Grounded on biscuit/src/pci/olddiski.go's Disk_i
// (Start/Complete/Intr shape) and biscuit/src/fs/blk.go's Disk_i
// (Start/Stats), generalized to the sector primitives spec.md §6 names:
// ide_start_readwrite/ide_is_ready/ide_read_sector/ide_write_sector.
package ide

// SectorSize is the device's fixed sector size in bytes.
const SectorSize = 512

// Device is the block device's sector-level interface. A real driver
// issues the command in StartReadWrite and reports completion through
// IsReady; callers poll IsReady and only call ReadSector/WriteSector once
// it reports true.
type Device interface {
	StartReadWrite(sector int, nSectors int, isWrite bool)
	IsReady() bool
	ReadSector(buf []byte)
	WriteSector(buf []byte)
}

// SectorsPerPage is the number of device sectors one page-sized swap slot
// spans; swap.SlotStore uses this to compute a slot's sector range.
func SectorsPerPage(pageSize int) int { return pageSize / SectorSize }

// ReadPage reads pageSize bytes starting at the given sector into into,
// yielding between each not-ready poll rather than busy-waiting. This is
// the cooperative variant the swap worker uses, since it may release its
// locks and let other kernel threads run while the device completes I/O
// (spec.md §4.6, §5).
func ReadPage(d Device, sector int, pageSize int, into []byte, yield func()) {
	n := SectorsPerPage(pageSize)
	d.StartReadWrite(sector, n, false)
	for !d.IsReady() {
		yield()
	}
	for s := 0; s < n; s++ {
		d.ReadSector(into[s*SectorSize : (s+1)*SectorSize])
	}
}

// WritePage writes pageSize bytes starting at the given sector, yielding
// between not-ready polls (cooperative variant; see ReadPage).
func WritePage(d Device, sector int, pageSize int, from []byte, yield func()) {
	n := SectorsPerPage(pageSize)
	d.StartReadWrite(sector, n, true)
	for !d.IsReady() {
		yield()
	}
	for s := 0; s < n; s++ {
		d.WriteSector(from[s*SectorSize : (s+1)*SectorSize])
	}
}

// ReadPageBlocking is ReadPage's busy-poll variant, used by direct reclaim
// which must not yield (spec.md §4.7, §5).
func ReadPageBlocking(d Device, sector int, pageSize int, into []byte) {
	ReadPage(d, sector, pageSize, into, func() {})
}

// WritePageBlocking is WritePage's busy-poll variant.
func WritePageBlocking(d Device, sector int, pageSize int, from []byte) {
	WritePage(d, sector, pageSize, from, func() {})
}
