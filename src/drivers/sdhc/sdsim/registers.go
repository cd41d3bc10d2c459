package sdsim

import (
	"encoding/binary"

	"sdmmc/src/drivers/sd"
	"sdmmc/src/drivers/sdhc"
)

// Local copies of the standard register encodings the simulator has to
// decode off the bus. These mirror the published register layout, not any
// driver package.
const (
	simTransferRead     uint32 = 1 << 4
	simMultipleBlocks   uint32 = 1 << 5
	simResponse136      uint32 = 0x1 << 16
	simResponseMask     uint32 = 0x3 << 16
	simDataPresent      uint32 = 1 << 21
	simCommandComplete  uint32 = 1 << 0
	simTransferComplete uint32 = 1 << 1
	simBufferWriteReady uint32 = 1 << 4
	simBufferReadReady  uint32 = 1 << 5
	simCommandTimeout   uint32 = 1 << 16
	simErrorInterrupt   uint32 = 1 << 15
	simInternalClock    uint32 = 1 << 0
	simClockStable      uint32 = 1 << 1
	simResetMask        uint32 = 0x7 << 24
	simCardInserted     uint32 = 1 << 16
	simWriteEnabled     uint32 = 1 << 19
)

// RegisterFile is the host controller side of the simulation, an
// sdhc.RegisterBlock whose command register drives a Card.
type RegisterFile struct {
	Card *Card

	// HostVersion and Capabilities configure what phase 0 discovers.
	HostVersion    uint32
	Capabilities   uint32
	Inserted       bool
	WriteProtected bool

	regs     map[sdhc.Register]uint32
	latched  uint32
	response [4]uint32

	readFifo      []byte
	writeFifo     []byte
	writeExpected uint32
	pendingWrite  sd.Command
}

// NewRegisterFile builds a slot with the given card inserted. The host
// reports version 3, a 96MHz base clock, 3.3V, ADMA2 and high speed.
func NewRegisterFile(card *Card) *RegisterFile {
	return &RegisterFile{
		Card:        card,
		HostVersion: 2, // version 3.0 encoding
		Capabilities: 96<<8 | 1<<19 | 1<<21 |
			1<<24, // base clock, ADMA2, high speed, 3.3V
		Inserted: true,
		regs:     make(map[sdhc.Register]uint32),
	}
}

func (f *RegisterFile) Read(reg sdhc.Register) uint32 {
	switch reg {
	case sdhc.RegPresentState:
		var state uint32
		if f.Inserted {
			state |= simCardInserted
		}
		if !f.WriteProtected {
			state |= simWriteEnabled
		}
		return state
	case sdhc.RegCapabilities:
		return f.Capabilities
	case sdhc.RegSlotStatusVersion:
		return f.HostVersion << 16
	case sdhc.RegClockControl:
		value := f.regs[reg]
		if value&simInternalClock != 0 {
			value |= simClockStable
		}
		return value
	case sdhc.RegInterruptStatus:
		value := f.latched
		if len(f.readFifo) > 0 {
			value |= simBufferReadReady
		}
		if f.writeExpected > 0 {
			value |= simBufferWriteReady
		}
		return value
	case sdhc.RegBufferDataPort:
		if len(f.readFifo) < 4 {
			return 0
		}
		word := binary.LittleEndian.Uint32(f.readFifo)
		f.readFifo = f.readFifo[4:]
		if len(f.readFifo) == 0 {
			f.latched |= simTransferComplete
		}
		return word
	case sdhc.RegResponse10:
		return f.response[3]
	case sdhc.RegResponse32:
		return f.response[2]
	case sdhc.RegResponse54:
		return f.response[1]
	case sdhc.RegResponse76:
		return f.response[0]
	}
	return f.regs[reg]
}

func (f *RegisterFile) Write(reg sdhc.Register, value uint32) {
	switch reg {
	case sdhc.RegInterruptStatus:
		f.latched &^= value
	case sdhc.RegClockControl:
		// resets complete instantly, nothing in here takes time
		f.regs[reg] = value &^ simResetMask
	case sdhc.RegBufferDataPort:
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], value)
		f.writeFifo = append(f.writeFifo, word[:]...)
		if uint32(len(f.writeFifo)) >= f.writeExpected && f.writeExpected > 0 {
			f.completeWrite()
		}
	case sdhc.RegCommand:
		f.regs[reg] = value
		f.executeCommand(value)
	default:
		f.regs[reg] = value
	}
}

func (f *RegisterFile) executeCommand(value uint32) {
	cmd := sd.Command{
		Index:    sd.CommandIndex(value >> 24),
		Argument: f.regs[sdhc.RegArgument1],
	}
	if value&simResponseMask == simResponse136 {
		cmd.ResponseType = sd.ResponseR2
	} else if value&simResponseMask != 0 {
		cmd.ResponseType = sd.ResponseR1
	}

	var transferBytes uint32
	if value&simDataPresent != 0 {
		sizeCount := f.regs[sdhc.RegBlockSizeCount]
		transferBytes = sizeCount & 0xFFF
		if value&simMultipleBlocks != 0 {
			transferBytes = (sizeCount & 0xFFF) * (sizeCount >> 16)
		}
	}
	if transferBytes > 0 && value&simTransferRead == 0 {
		// the data arrives through the FIFO before the card can act
		f.pendingWrite = cmd
		f.pendingWrite.Write = true
		f.pendingWrite.BufferSize = transferBytes
		f.writeFifo = f.writeFifo[:0]
		f.writeExpected = transferBytes
		f.latched |= simCommandComplete
		f.response = [4]uint32{}
		f.response[3] = sd.StatusReadyForData | sd.CardStateTransfer
		return
	}

	if transferBytes > 0 {
		cmd.Buffer = make([]byte, transferBytes)
		cmd.BufferSize = transferBytes
	}
	if err := f.Card.Execute(&cmd); err != nil {
		f.latched |= simCommandTimeout | simErrorInterrupt
		return
	}
	f.storeResponse(&cmd)
	f.latched |= simCommandComplete
	if transferBytes > 0 {
		f.readFifo = append(f.readFifo[:0], cmd.Buffer...)
	}
}

func (f *RegisterFile) completeWrite() {
	cmd := f.pendingWrite
	cmd.Buffer = append([]byte(nil), f.writeFifo...)
	f.writeExpected = 0
	f.writeFifo = f.writeFifo[:0]
	if err := f.Card.Execute(&cmd); err != nil {
		f.latched |= simCommandTimeout | simErrorInterrupt
		return
	}
	f.latched |= simTransferComplete
}

func (f *RegisterFile) storeResponse(cmd *sd.Command) {
	if cmd.ResponseType&sd.Response136Bit != 0 {
		f.response = cmd.Response
		return
	}
	f.response = [4]uint32{}
	f.response[3] = cmd.Response[0]
}
