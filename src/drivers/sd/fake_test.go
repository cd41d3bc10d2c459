package sd

import (
	"encoding/binary"
	"time"
)

// fakeCard answers the card protocol at the command level so engine tests
// run without any register plumbing. It models three personalities: a
// 2.0 high capacity SD card, a 1.x standard capacity SD card, and a 4.5
// MMC part.
type fakeCardKind int

const (
	cardSd2HighCapacity fakeCardKind = iota
	cardSd1Standard
	cardMmc4p5
)

type fakeCard struct {
	kind     fakeCardKind
	capacity uint64

	// CSD geometry for the standard capacity personality
	cSize         uint32
	cSizeMult     uint32
	blockLenField uint32

	highSpeedCapable bool

	// MMC personality knobs
	mmcTranSpeed          byte
	ignoreHighSpeedSwitch bool

	rca          uint32
	appNext      bool
	ocrQueries   int
	cmd1Queries  int
	selected     bool
	extCsd       [512]byte
	blocks       map[uint64][]byte
	log          []CommandIndex
	acmd41Issued int
}

func newFakeSd2Card(capacity uint64) *fakeCard {
	return &fakeCard{
		kind:             cardSd2HighCapacity,
		capacity:         capacity,
		highSpeedCapable: true,
		blocks:           make(map[uint64][]byte),
	}
}

func newFakeSd1Card(cSize, cSizeMult, blockLenField uint32) *fakeCard {
	f := &fakeCard{
		kind:          cardSd1Standard,
		cSize:         cSize,
		cSizeMult:     cSizeMult,
		blockLenField: blockLenField,
		blocks:        make(map[uint64][]byte),
	}
	f.capacity = uint64(cSize+1) << (cSizeMult + 2) * (1 << blockLenField)
	return f
}

func newFakeMmcCard(capacity uint64) *fakeCard {
	f := &fakeCard{
		kind:         cardMmc4p5,
		capacity:     capacity,
		mmcTranSpeed: 0x5A,
		blocks:       make(map[uint64][]byte),
	}
	f.extCsd[extCsdRevision] = 6
	f.extCsd[extCsdCardType] = 0x3
	binary.LittleEndian.PutUint32(
		f.extCsd[extCsdSectorCount:extCsdSectorCount+4],
		uint32(capacity/uint64(MaxBlockSize)))
	return f
}

func (f *fakeCard) countCommands(index CommandIndex) int {
	n := 0
	for _, logged := range f.log {
		if logged == index {
			n++
		}
	}
	return n
}

func (f *fakeCard) execute(cmd *Command) error {
	f.log = append(f.log, cmd.Index)
	app := f.appNext
	f.appNext = false
	switch {
	case app && cmd.Index == AcmdSendOperatingCondition:
		return f.sendOperatingCondition(cmd)
	case app && cmd.Index == AcmdSendSdConfigurationRegister:
		return f.sendConfigurationRegister(cmd)
	case app && cmd.Index == AcmdSetBusWidth:
		cmd.Response[0] = f.status()
		return nil
	}
	switch cmd.Index {
	case CmdReset:
		f.selected = false
		return nil
	case CmdSendInterfaceCondition:
		if f.kind == cardMmc4p5 && cmd.Buffer != nil {
			copy(cmd.Buffer, f.extCsd[:])
			cmd.Response[0] = f.status()
			return nil
		}
		if f.kind != cardSd2HighCapacity {
			// pre-2.0 cards do not answer CMD8
			return ErrTimeout
		}
		cmd.Response[0] = cmd.Argument
		return nil
	case CmdApplicationSpecific:
		if f.kind == cardMmc4p5 {
			return ErrTimeout
		}
		f.appNext = true
		cmd.Response[0] = f.status()
		return nil
	case CmdSendMmcOperatingCondition:
		return f.sendMmcOperatingCondition(cmd)
	case CmdAllSendCardIdentification, CmdSendCardIdentification:
		f.fillCardIdentification(cmd)
		return nil
	case CmdSpiReadOperatingCondition:
		response := Voltage32To33 | Voltage33To34 | OcrBusy
		if f.kind == cardSd2HighCapacity {
			response |= OcrHighCapacity
		}
		cmd.Response[0] = response
		return nil
	case CmdSpiCrcOnOff:
		cmd.Response[0] = 0
		return nil
	case CmdSetRelativeAddress:
		if f.kind == cardMmc4p5 {
			f.rca = cmd.Argument >> 16
			cmd.Response[0] = f.status()
		} else {
			f.rca = 0x1234
			cmd.Response[0] = f.rca << 16
		}
		return nil
	case CmdSendCardSpecificData:
		f.fillCardSpecificData(cmd)
		return nil
	case CmdSelectCard:
		f.selected = true
		cmd.Response[0] = f.status()
		return nil
	case CmdSendStatus:
		cmd.Response[0] = f.status()
		return nil
	case CmdSwitch:
		return f.doSwitch(cmd)
	case CmdSetBlockLength:
		cmd.Response[0] = f.status()
		return nil
	case CmdReadSingleBlock, CmdReadMultipleBlocks:
		return f.readBlocks(cmd)
	case CmdWriteSingleBlock, CmdWriteMultipleBlocks:
		return f.writeBlocks(cmd)
	case CmdStopTransmission:
		cmd.Response[0] = f.status()
		return nil
	}
	return ErrTimeout
}

func (f *fakeCard) status() uint32 {
	state := CardStateStandby
	if f.selected {
		state = CardStateTransfer
	}
	return StatusReadyForData | state
}

func (f *fakeCard) sendOperatingCondition(cmd *Command) error {
	f.acmd41Issued++
	f.ocrQueries++
	response := Voltage32To33 | Voltage33To34
	if f.ocrQueries > 1 {
		response |= OcrBusy
		if f.kind == cardSd2HighCapacity {
			response |= OcrHighCapacity
		}
	}
	cmd.Response[0] = response
	return nil
}

func (f *fakeCard) sendMmcOperatingCondition(cmd *Command) error {
	f.cmd1Queries++
	response := Voltage32To33 | Voltage33To34 | OcrHighCapacity
	if f.cmd1Queries > 1 {
		response |= OcrBusy
	}
	cmd.Response[0] = response
	return nil
}

func (f *fakeCard) fillCardIdentification(cmd *Command) {
	// MID 0x27, OID "XY", PNM "FAKE5", PRV 0x30, PSN 0x01020304,
	// MDT 0x123 (march 2018)
	cmd.Response[0] = 0x27<<24 | uint32('X')<<16 | uint32('Y')<<8 | uint32('F')
	cmd.Response[1] = uint32('A')<<24 | uint32('K')<<16 | uint32('E')<<8 | uint32('5')
	cmd.Response[2] = 0x30<<24 | 0x010203
	cmd.Response[3] = 0x04<<24 | 0x123<<8
}

func (f *fakeCard) fillCardSpecificData(cmd *Command) {
	switch f.kind {
	case cardSd2HighCapacity:
		cSize := uint32(f.capacity>>19) - 1
		cmd.Response[0] = 1<<30 | 0x32
		cmd.Response[1] = 9<<16 | (cSize>>16)&0x3F
		cmd.Response[2] = (cSize & 0xFFFF) << 16
		cmd.Response[3] = 0
	case cardSd1Standard:
		cmd.Response[0] = 0x32
		cmd.Response[1] = f.blockLenField<<16 | f.cSize>>2
		cmd.Response[2] = (f.cSize&0x3)<<30 | f.cSizeMult<<15
		cmd.Response[3] = 0
	case cardMmc4p5:
		// spec version 4, small legacy c_size, erase group 32x32
		cmd.Response[0] = 1<<30 | 4<<26 | uint32(f.mmcTranSpeed)
		cmd.Response[1] = 9<<16 | 0x3F
		cmd.Response[2] = 0xFFFF<<16 | 31<<10 | 31<<5
		cmd.Response[3] = 9 << 22
	}
}

func (f *fakeCard) sendConfigurationRegister(cmd *Command) error {
	if f.kind == cardMmc4p5 {
		return ErrTimeout
	}
	var scr0 uint32
	switch f.kind {
	case cardSd2HighCapacity:
		scr0 = 2<<scrSpecVersionShift | 0x5<<scrBusWidthShift
	case cardSd1Standard:
		scr0 = 0<<scrSpecVersionShift | 0x1<<scrBusWidthShift
	}
	binary.BigEndian.PutUint32(cmd.Buffer[0:4], scr0)
	binary.BigEndian.PutUint32(cmd.Buffer[4:8], 0)
	cmd.Response[0] = f.status()
	return nil
}

func (f *fakeCard) doSwitch(cmd *Command) error {
	if f.kind == cardMmc4p5 {
		access := cmd.Argument >> 24 & 0x3
		if access == 3 {
			index := cmd.Argument >> 16 & 0xFF
			value := byte(cmd.Argument >> 8 & 0xFF)
			// a card can take the switch command yet leave the timing
			// byte untouched
			if !(f.ignoreHighSpeedSwitch && index == extCsdHighSpeed) {
				f.extCsd[index] = value
			}
		}
		cmd.Response[0] = f.status()
		return nil
	}
	var status [16]uint32
	if f.highSpeedCapable {
		status[3] = sdSwitchStatus3HighSpeedSupported
		status[4] = sdSwitchStatus4HighSpeed
	}
	for i, word := range status {
		binary.BigEndian.PutUint32(cmd.Buffer[i*4:i*4+4], word)
	}
	cmd.Response[0] = f.status()
	return nil
}

func (f *fakeCard) blockLength() uint64 {
	if f.kind == cardSd1Standard {
		length := uint64(1) << f.blockLenField
		if length > uint64(MaxBlockSize) {
			length = uint64(MaxBlockSize)
		}
		return length
	}
	return uint64(MaxBlockSize)
}

func (f *fakeCard) blockNumber(argument uint32) uint64 {
	if f.kind == cardSd1Standard {
		return uint64(argument) / f.blockLength()
	}
	return uint64(argument)
}

func (f *fakeCard) readBlocks(cmd *Command) error {
	length := f.blockLength()
	block := f.blockNumber(cmd.Argument)
	buf := cmd.Buffer[:cmd.BufferSize]
	for len(buf) > 0 {
		stored, ok := f.blocks[block]
		if ok {
			copy(buf[:length], stored)
		} else {
			for i := uint64(0); i < length; i++ {
				buf[i] = byte(block)
			}
		}
		buf = buf[length:]
		block++
	}
	cmd.Response[0] = f.status()
	return nil
}

func (f *fakeCard) writeBlocks(cmd *Command) error {
	length := f.blockLength()
	block := f.blockNumber(cmd.Argument)
	buf := cmd.Buffer[:cmd.BufferSize]
	for len(buf) > 0 {
		stored := make([]byte, length)
		copy(stored, buf[:length])
		f.blocks[block] = stored
		buf = buf[length:]
		block++
	}
	cmd.Response[0] = f.status()
	return nil
}

// fakeBackend satisfies Backend against a fakeCard and records what the
// engine asked of the host side.
type fakeBackend struct {
	card *fakeCard

	hostCaps         uint32
	hostVersion      uint16
	fundamentalClock uint32

	failSendCommand error
	sendCount       int
	commandLog      []CommandIndex
	resets          []uint32
	busWidths       []uint32
	clockSpeeds     []uint32
	initPhases      []int
}

func newFakeBackend(card *fakeCard, hostCaps uint32) *fakeBackend {
	return &fakeBackend{
		card:             card,
		hostCaps:         hostCaps,
		hostVersion:      3,
		fundamentalClock: 96000000,
	}
}

func (f *fakeBackend) InitializeController(c *Controller, phase int) error {
	f.initPhases = append(f.initPhases, phase)
	if phase == 0 {
		c.HostVersion = f.hostVersion
		c.HostCapabilities |= f.hostCaps
		if c.Voltages == 0 {
			c.Voltages = Voltage32To33 | Voltage33To34
		}
		if c.FundamentalClock == 0 {
			c.FundamentalClock = f.fundamentalClock
		}
	}
	return nil
}

func (f *fakeBackend) ResetController(c *Controller, flags uint32) error {
	f.resets = append(f.resets, flags)
	return nil
}

func (f *fakeBackend) SendCommand(c *Controller, cmd *Command) error {
	f.sendCount++
	f.commandLog = append(f.commandLog, cmd.Index)
	if f.failSendCommand != nil {
		return f.failSendCommand
	}
	return f.card.execute(cmd)
}

func (f *fakeBackend) GetSetBusWidth(c *Controller, set bool) error {
	if set {
		f.busWidths = append(f.busWidths, c.BusWidth)
	}
	return nil
}

func (f *fakeBackend) GetSetClockSpeed(c *Controller, set bool) error {
	if set {
		f.clockSpeeds = append(f.clockSpeeds, c.ClockSpeed)
	}
	return nil
}

// newTestController builds a controller over the fake backend with
// instant time hooks.
func newTestController(backend *fakeBackend) *Controller {
	start := time.Now()
	elapsed := time.Duration(0)
	c, err := CreateController(CreationParameters{
		Backend: backend,
		Now: func() time.Time {
			return start.Add(elapsed)
		},
		Delay: func(microseconds uint32) {
			elapsed += time.Duration(microseconds) * time.Microsecond
		},
	})
	if err != nil {
		panic(err)
	}
	return c
}
