package sd

import (
	"time"

	"sdmmc/src/lib/trust"
)

const controllerDebug = false

// Backend is the hardware half of the driver. The engine drives any
// controller through these five operations; everything card-protocol
// shaped lives on this side of the line.
//
// InitializeController is called twice, phase 0 before the engine touches
// the bus (capability/clock discovery) and phase 1 after bus parameters
// are programmed (power and interrupt enables).
type Backend interface {
	InitializeController(c *Controller, phase int) error
	ResetController(c *Controller, flags uint32) error
	SendCommand(c *Controller, cmd *Command) error
	GetSetBusWidth(c *Controller, set bool) error
	GetSetClockSpeed(c *Controller, set bool) error
}

// CardIdentification is the decoded CID register.
type CardIdentification struct {
	ManufacturerId    byte
	OemId             [2]byte
	ProductName       [5]byte
	ProductRevision   byte
	SerialNumber      uint32
	ManufacturingDate uint16
}

// CreationParameters configures a new controller context. Backend is
// required; everything else has a workable zero value. Voltages and
// HostCapabilities may be left zero to let backend phase 0 discover them.
type CreationParameters struct {
	Backend          Backend
	ConsumerContext  interface{}
	Voltages         uint32
	FundamentalClock uint32
	HostCapabilities uint32

	// optional status callbacks, nil means "always present"/"never
	// protected"
	GetCardDetectStatus   func(c *Controller) (bool, error)
	GetWriteProtectStatus func(c *Controller) (bool, error)

	// time hooks, tests swap these for instant versions
	Now   func() time.Time
	Delay func(microseconds uint32)
}

// Controller is the per-slot context. All card state discovered during
// initialization lives here; there is no package-level state.
type Controller struct {
	backend         Backend
	ConsumerContext interface{}

	GetCardDetectStatus   func(c *Controller) (bool, error)
	GetWriteProtectStatus func(c *Controller) (bool, error)

	Voltages         uint32
	FundamentalClock uint32
	HostVersion      uint16
	HostCapabilities uint32
	CardCapabilities uint32

	BusWidth     uint32
	ClockSpeed   uint32
	CardAddress  uint32
	Version      Version
	HighCapacity bool

	ReadBlockLength          uint32
	WriteBlockLength         uint32
	UserCapacity             uint64
	BootCapacity             uint64
	RpmbCapacity             uint64
	GeneralPartitionCapacity [4]uint64
	EraseGroupSize           uint32
	PartitionConfiguration   uint32

	CardSpecificData   [4]uint32
	CardIdentification CardIdentification

	MaxBlocksPerTransfer uint32

	mediaPresent bool
	mediaChanged bool

	now   func() time.Time
	delay func(microseconds uint32)
}

// Partition configuration sentinel: no boot partition configured.
const PartitionConfigurationNone uint32 = 0xFF

// CreateController validates the parameters and builds a controller
// context. It does not touch the hardware.
func CreateController(params CreationParameters) (*Controller, error) {
	if params.Backend == nil {
		return nil, ErrInvalidParameter
	}
	c := &Controller{
		backend:               params.Backend,
		ConsumerContext:       params.ConsumerContext,
		GetCardDetectStatus:   params.GetCardDetectStatus,
		GetWriteProtectStatus: params.GetWriteProtectStatus,
		Voltages:              params.Voltages,
		FundamentalClock:      params.FundamentalClock,
		HostCapabilities:      params.HostCapabilities,
		now:                   params.Now,
		delay:                 params.Delay,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.delay == nil {
		c.delay = func(microseconds uint32) {
			time.Sleep(time.Duration(microseconds) * time.Microsecond)
		}
	}
	return c, nil
}

// GetMediaParameters returns the block size and count of the initialized
// card.
func (c *Controller) GetMediaParameters() (blockSize uint32, blockCount uint64, err error) {
	if !c.mediaPresent {
		return 0, 0, ErrNoMedia
	}
	if c.ReadBlockLength == 0 || c.UserCapacity == 0 {
		return 0, 0, ErrNotStarted
	}
	return c.ReadBlockLength, c.UserCapacity / uint64(c.ReadBlockLength), nil
}

// Stall delays for the given number of microseconds using the
// controller's time hook.
func (c *Controller) Stall(microseconds uint32) {
	c.delay(microseconds)
}

// PollUntil calls poll until it reports done, a poll error, or the
// timeout elapses. The poll interval is left to the delay hook; real
// hardware spins, tests return instantly.
func (c *Controller) PollUntil(timeoutMicroseconds uint32, poll func() (bool, error)) error {
	deadline := c.now().Add(time.Duration(timeoutMicroseconds) * time.Microsecond)
	for {
		done, err := poll()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if c.now().After(deadline) {
			if controllerDebug {
				trust.Debugf("sd: poll timed out after %d us", timeoutMicroseconds)
			}
			return ErrTimeout
		}
		c.delay(CardDelayMicroseconds)
	}
}

// sendCommand is the engine-side wrapper so call sites stay terse.
func (c *Controller) sendCommand(cmd *Command) error {
	err := c.backend.SendCommand(c, cmd)
	if controllerDebug && err != nil {
		trust.Debugf("sd: cmd %d arg 0x%08x failed: %v", cmd.Index, cmd.Argument, err)
	}
	return err
}
