package device

import "fmt"

// ShutdownMagic is the platform shutdown value written to the SHUTDOWN
// typecode device: two recognized values, default and power-off.
type ShutdownMagic uint32

const (
	ShutdownNormal   ShutdownMagic = 0xdeadc0de
	ShutdownPowerOff ShutdownMagic = 0x0badf00d
)

// ShutdownDevice receives the shutdown magic and records the last value
// written, the hosted stand-in for "write a magic word to a
// platform-specific shutdown device".
type ShutdownDevice struct {
	Last ShutdownMagic
	Halt func(ShutdownMagic) // optional hook, e.g. to stop the simulator loop
}

func (s *ShutdownDevice) Write(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("device: shutdown magic write too short")
	}
	magic := ShutdownMagic(uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24)
	s.Last = magic
	if s.Halt != nil {
		s.Halt(magic)
	}
	return 4, nil
}

func (s *ShutdownDevice) Read([]byte) (int, error) { return 0, nil }

// StatsSource supplies the text a MEMINFO/CPUSTATUS pseudo-device reports;
// kept as a function so the device doesn't need to import sched/mm itself.
type StatsSource func() string

// StatsDevice is a synthetic read-only character device: every Read call
// formats the latest snapshot from Source. It gives the MEMINFO and
// CPUSTATUS typecodes a concrete implementation alongside the real TTY
// and DISK drivers.
type StatsDevice struct {
	Source StatsSource
}

func (d *StatsDevice) Write([]byte) (int, error) { return 0, fmt.Errorf("device: stats device is read-only") }

func (d *StatsDevice) Read(buf []byte) (int, error) {
	s := d.Source()
	n := copy(buf, s)
	return n, nil
}
