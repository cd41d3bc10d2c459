// Package sdhc drives a standard SD host controller through the generic
// engine's backend interface. Everything here is register-level; the card
// protocol lives in the sd package.
package sdhc

import "unsafe"

// Register is a byte offset into the standard host register block.
type Register uint32

const (
	RegDmaAddress            Register = 0x00
	RegBlockSizeCount        Register = 0x04
	RegArgument1             Register = 0x08
	RegCommand               Register = 0x0C
	RegResponse10            Register = 0x10
	RegResponse32            Register = 0x14
	RegResponse54            Register = 0x18
	RegResponse76            Register = 0x1C
	RegBufferDataPort        Register = 0x20
	RegPresentState          Register = 0x24
	RegHostControl           Register = 0x28
	RegClockControl          Register = 0x2C
	RegInterruptStatus       Register = 0x30
	RegInterruptStatusEnable Register = 0x34
	RegInterruptSignalEnable Register = 0x38
	RegAutoCmdErrorStatus    Register = 0x3C
	RegCapabilities          Register = 0x40
	RegCapabilities2         Register = 0x44
	RegMaxCapabilities       Register = 0x48
	RegForceEvent            Register = 0x50
	RegAdmaErrorStatus       Register = 0x54
	RegAdmaAddressLow        Register = 0x58
	RegAdmaAddressHigh       Register = 0x5C
	RegSharedBusControl      Register = 0xE0
	RegSlotStatusVersion     Register = 0xFC
)

// RegisterBlock is the access path to the controller registers. Hardware
// uses MemoryMappedRegisters; tests and the console tool substitute a
// simulated block.
type RegisterBlock interface {
	Read(r Register) uint32
	Write(r Register, value uint32)
}

// MemoryMappedRegisters is a RegisterBlock over a physical base address
// that has already been mapped into the address space.
type MemoryMappedRegisters struct {
	Base uintptr
}

func (m *MemoryMappedRegisters) Read(r Register) uint32 {
	return *(*uint32)(unsafe.Pointer(m.Base + uintptr(r)))
}

func (m *MemoryMappedRegisters) Write(r Register, value uint32) {
	*(*uint32)(unsafe.Pointer(m.Base + uintptr(r))) = value
}

// Present state bits.
const (
	presentStateCommandInhibit uint32 = 1 << 0
	presentStateDataInhibit    uint32 = 1 << 1
	presentStateCardInserted   uint32 = 1 << 16
	presentStateWriteEnabled   uint32 = 1 << 19
)

// Host control register bits. The 32-bit register stacks host control,
// power control, block gap control and wakeup control bytes.
const (
	hostControl4BitWidth   uint32 = 1 << 1
	hostControlHighSpeed   uint32 = 1 << 2
	hostControlDmaMask     uint32 = 3 << 3
	hostControl8BitWidth   uint32 = 1 << 5
	hostControlPowerEnable uint32 = 1 << 8
	hostControlPower3V3    uint32 = 0x7 << 9
	hostControlPower3V0    uint32 = 0x6 << 9
	hostControlPower1V8    uint32 = 0x5 << 9
	hostControlPowerMask   uint32 = 0x7 << 9
)

// Clock control register bits. The upper byte doubles as the software
// reset register.
const (
	clockControlInternalEnable   uint32 = 1 << 0
	clockControlStable           uint32 = 1 << 1
	clockControlSdClockEnable    uint32 = 1 << 2
	clockControlDivisorMask      uint32 = 0xFF << 8
	clockControlDivisorHighMask  uint32 = 0x3 << 6
	clockControlDefaultTimeout   uint32 = 0xE << 16
	clockControlTimeoutMask      uint32 = 0xF << 16
	clockControlResetAll         uint32 = 1 << 24
	clockControlResetCommandLine uint32 = 1 << 25
	clockControlResetDataLine    uint32 = 1 << 26
)

// Largest divisors the two host generations can encode.
const (
	maxDivisorVersion2 = 0x100
	maxDivisorVersion3 = 2046
)

// Interrupt status bits, shared by the status, status enable and signal
// enable registers.
const (
	interruptCommandComplete  uint32 = 1 << 0
	interruptTransferComplete uint32 = 1 << 1
	interruptBlockGapEvent    uint32 = 1 << 2
	interruptDmaComplete      uint32 = 1 << 3
	interruptBufferWriteReady uint32 = 1 << 4
	interruptBufferReadReady  uint32 = 1 << 5
	interruptCardInsertion    uint32 = 1 << 6
	interruptCardRemoval      uint32 = 1 << 7
	interruptCardInterrupt    uint32 = 1 << 8
	interruptErrorInterrupt   uint32 = 1 << 15
	interruptCommandTimeout   uint32 = 1 << 16
	interruptCommandCrcError  uint32 = 1 << 17
	interruptCommandEndBit    uint32 = 1 << 18
	interruptCommandIndex     uint32 = 1 << 19
	interruptDataTimeout      uint32 = 1 << 20
	interruptDataCrcError     uint32 = 1 << 21
	interruptDataEndBit       uint32 = 1 << 22
	interruptCurrentLimit     uint32 = 1 << 23
	interruptAutoCmd12Error   uint32 = 1 << 24
	interruptAdmaError        uint32 = 1 << 25

	interruptErrorMask = interruptErrorInterrupt | interruptCommandTimeout |
		interruptCommandCrcError | interruptCommandEndBit |
		interruptCommandIndex | interruptDataTimeout |
		interruptDataCrcError | interruptDataEndBit |
		interruptCurrentLimit | interruptAutoCmd12Error |
		interruptAdmaError

	interruptDataErrorMask = interruptDataTimeout | interruptDataCrcError |
		interruptDataEndBit

	statusEnableDefaultMask = interruptCommandComplete |
		interruptTransferComplete | interruptBufferWriteReady |
		interruptBufferReadReady | interruptCardInsertion |
		interruptCardRemoval | interruptErrorMask
)

// Command register bits. The low half is the transfer mode register.
const (
	commandDmaEnable        uint32 = 1 << 0
	commandBlockCountEnable uint32 = 1 << 1
	commandAutoCmd12        uint32 = 1 << 2
	commandTransferRead     uint32 = 1 << 4
	commandMultipleBlocks   uint32 = 1 << 5

	commandResponse136    uint32 = 0x1 << 16
	commandResponse48     uint32 = 0x2 << 16
	commandResponse48Busy uint32 = 0x3 << 16
	commandCrcCheckEnable uint32 = 1 << 19
	commandIndexCheck     uint32 = 1 << 20
	commandDataPresent    uint32 = 1 << 21
	commandIndexShift            = 24
)

// Block size register: transfer sizes plus the 512K DMA boundary.
const (
	blockSizeDmaBoundary512K uint32 = 0x7 << 12
	blockCountShift                 = 16
)

// Capability register bits.
const (
	capabilityBaseClockShift        = 8
	capabilityBaseClockMaskV3       = 0xFF
	capabilityBaseClockMaskV2       = 0x3F
	capabilityAdma2          uint32 = 1 << 19
	capabilityHighSpeed      uint32 = 1 << 21
	capabilityVoltage3V3     uint32 = 1 << 24
	capabilityVoltage3V0     uint32 = 1 << 25
	capabilityVoltage1V8     uint32 = 1 << 26
)

// Host controller specification versions from the version register.
const (
	hostVersion1 = 0
	hostVersion2 = 1
	hostVersion3 = 2
)
