package mm

import "github.com/DIKU-EDU/kudos-sub000/internal/kconfig"

// RAM is the simulated physical memory backing every frame. Real hardware
// has one RAM; tests typically build one RAM plus one FrameAllocator sized
// to match it, the same pairing VM init establishes at boot.
type RAM struct {
	bytes []byte
}

// NewRAM allocates a byte arena covering totalFrames frames.
func NewRAM(totalFrames int) *RAM {
	return &RAM{bytes: make([]byte, totalFrames*kconfig.FrameSize)}
}

// FrameBytes returns the byte slice backing frame, for direct inspection in
// tests (production code should go through PageTable.Memwrite/Translate).
func (r *RAM) FrameBytes(frame int) []byte {
	start := frame * kconfig.FrameSize
	return r.bytes[start : start+kconfig.FrameSize]
}
