package sd

// CommandIndex names the native command opcodes this driver issues. The
// same index can mean different things on SD and MMC (6 and 8 notably),
// the initialization code keeps them straight.
type CommandIndex uint32

const (
	CmdReset                     CommandIndex = 0
	CmdSendMmcOperatingCondition CommandIndex = 1
	CmdAllSendCardIdentification CommandIndex = 2
	CmdSetRelativeAddress        CommandIndex = 3
	CmdSwitch                    CommandIndex = 6
	CmdSelectCard                CommandIndex = 7
	CmdSendInterfaceCondition    CommandIndex = 8
	CmdMmcSendExtendedCardData   CommandIndex = 8
	CmdSendCardSpecificData      CommandIndex = 9
	CmdSendCardIdentification    CommandIndex = 10
	CmdStopTransmission          CommandIndex = 12
	CmdSendStatus                CommandIndex = 13
	CmdSetBlockLength            CommandIndex = 16
	CmdReadSingleBlock           CommandIndex = 17
	CmdReadMultipleBlocks        CommandIndex = 18
	CmdWriteSingleBlock          CommandIndex = 24
	CmdWriteMultipleBlocks       CommandIndex = 25
	CmdEraseGroupStart           CommandIndex = 35
	CmdEraseGroupEnd             CommandIndex = 36
	CmdErase                     CommandIndex = 38
	CmdApplicationSpecific       CommandIndex = 55
	CmdSpiReadOperatingCondition CommandIndex = 58
	CmdSpiCrcOnOff               CommandIndex = 59

	// application-specific commands, always preceded by CmdApplicationSpecific
	AcmdSetBusWidth                 CommandIndex = 6
	AcmdSendOperatingCondition      CommandIndex = 41
	AcmdSendSdConfigurationRegister CommandIndex = 51
)

// Response descriptor bits. Backends key their completion handling off
// these rather than off the command index.
const (
	ResponseNone     uint32 = 0
	ResponsePresent  uint32 = 1 << 0
	Response136Bit   uint32 = 1 << 1
	ResponseValidCrc uint32 = 1 << 2
	ResponseOpcode   uint32 = 1 << 3
	ResponseBusy     uint32 = 1 << 4

	ResponseR1  = ResponsePresent | ResponseValidCrc | ResponseOpcode
	ResponseR1B = ResponseR1 | ResponseBusy
	ResponseR2  = ResponsePresent | ResponseValidCrc | Response136Bit
	ResponseR3  = ResponsePresent
	ResponseR4  = ResponsePresent
	ResponseR5  = ResponseR1
	ResponseR6  = ResponseR1
	ResponseR7  = ResponseR1
)

// Command is a single transaction handed to the backend: the opcode, the
// shape of the expected response, and an optional data phase. The backend
// fills Response before returning.
type Command struct {
	Index        CommandIndex
	ResponseType uint32
	Argument     uint32
	Response     [4]uint32
	Buffer       []byte
	BufferSize   uint32
	Write        bool
	// Dma is set by BlockIoDma paths; the standard backend runs PIO and
	// ignores it.
	Dma bool
}

// Card status register bits (R1 responses).
const (
	StatusReadyForData     uint32 = 1 << 8
	StatusCurrentStateMask uint32 = 0xF << 9
	StatusErrorMask        uint32 = 0xFFF90000

	CardStateIdle     uint32 = 0 << 9
	CardStateReady    uint32 = 1 << 9
	CardStateIdent    uint32 = 2 << 9
	CardStateStandby  uint32 = 3 << 9
	CardStateTransfer uint32 = 4 << 9
	CardStateData     uint32 = 5 << 9
	CardStateReceive  uint32 = 6 << 9
	CardStateProgram  uint32 = 7 << 9
)

// Operating condition register (OCR) bits.
const (
	OcrBusy         uint32 = 0x80000000
	OcrHighCapacity uint32 = 0x40000000
	OcrAccessMode   uint32 = 0x60000000
	OcrVoltageMask  uint32 = 0x007FFF80

	Voltage165To195 uint32 = 0x00000080
	Voltage27To28   uint32 = 0x00008000
	Voltage28To29   uint32 = 0x00010000
	Voltage29To30   uint32 = 0x00020000
	Voltage30To31   uint32 = 0x00040000
	Voltage31To32   uint32 = 0x00080000
	Voltage32To33   uint32 = 0x00100000
	Voltage33To34   uint32 = 0x00200000
	Voltage34To35   uint32 = 0x00400000
	Voltage35To36   uint32 = 0x00800000
)

// CMD8 sends the supply voltage window (0x1) and a check pattern (0xAA)
// that a 2.0+ card echoes back.
const interfaceConditionArgument uint32 = 0x1AA

// RCA argument helper: commands addressing a selected card carry the
// relative address in the top half of the argument.
func rcaArgument(rca uint32) uint32 {
	return rca << 16
}
