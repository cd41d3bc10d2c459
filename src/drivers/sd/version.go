package sd

// Version identifies the card's specification revision. SD revisions sort
// strictly below VersionSdMaximum and MMC revisions strictly above
// VersionMmcMinimum, so "is this an SD card" is a single comparison.
type Version int

const (
	VersionInvalid Version = iota
	VersionSd1p0
	VersionSd1p10
	VersionSd2
	VersionSd3
	VersionSdMaximum
	VersionMmcMinimum
	VersionMmc1p2
	VersionMmc1p4
	VersionMmc2p2
	VersionMmc3
	VersionMmc4
	VersionMmc4p1
	VersionMmc4p2
	VersionMmc4p3
	VersionMmc4p41
	VersionMmc4p5
	VersionMmcMaximum
)

// IsSd reports whether the version names an SD card rather than an MMC
// device. Invalid versions are neither.
func (v Version) IsSd() bool {
	return v > VersionInvalid && v < VersionSdMaximum
}

func (v Version) IsMmc() bool {
	return v > VersionMmcMinimum && v < VersionMmcMaximum
}

func (v Version) String() string {
	switch v {
	case VersionSd1p0:
		return "SD 1.0"
	case VersionSd1p10:
		return "SD 1.10"
	case VersionSd2:
		return "SD 2.0"
	case VersionSd3:
		return "SD 3.0"
	case VersionMmc1p2:
		return "MMC 1.2"
	case VersionMmc1p4:
		return "MMC 1.4"
	case VersionMmc2p2:
		return "MMC 2.2"
	case VersionMmc3:
		return "MMC 3.0"
	case VersionMmc4:
		return "MMC 4.0"
	case VersionMmc4p1:
		return "MMC 4.1"
	case VersionMmc4p2:
		return "MMC 4.2"
	case VersionMmc4p3:
		return "MMC 4.3"
	case VersionMmc4p41:
		return "MMC 4.41"
	case VersionMmc4p5:
		return "MMC 4.5"
	}
	return "invalid"
}

// Host and card capability bits. The working set on an initialized
// controller is always the AND of what the host offers and what the card
// reported.
const (
	CapHighSpeed          uint32 = 0x001
	CapHighSpeed52MHz     uint32 = 0x002
	Cap4BitBus            uint32 = 0x004
	Cap8BitBus            uint32 = 0x008
	CapSpiMode            uint32 = 0x010
	CapHighCapacity       uint32 = 0x020
	CapAutoCmd12          uint32 = 0x040
	CapAdma2              uint32 = 0x080
	CapResponse136Shifted uint32 = 0x100
)

// Bus clock rates the initialization sequence negotiates, in Hz.
const (
	ClockInvalid uint32 = 0
	Clock400kHz  uint32 = 400000
	Clock25MHz   uint32 = 25000000
	Clock26MHz   uint32 = 26000000
	Clock50MHz   uint32 = 50000000
	Clock52MHz   uint32 = 52000000
)
