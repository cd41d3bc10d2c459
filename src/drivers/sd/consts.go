package sd

// Reset flags passed to Backend.ResetController.
const (
	ResetFlagAll         uint32 = 1 << 0
	ResetFlagCommandLine uint32 = 1 << 1
	ResetFlagDataLine    uint32 = 1 << 2
)

// Timing and retry envelope for card bring-up and I/O. These are part of
// the driver's external behavior (tests pin them), not tunables.
const (
	// settle time after touching card power or bus parameters
	CardDelayMicroseconds uint32 = 500

	// settle time after CMD0
	PostResetDelayMicroseconds uint32 = 2000

	// whole-card initialization attempts before giving up
	CardInitializeRetryCount = 3

	// ACMD41/CMD1 polls while the card reports busy
	OperatingConditionRetryCount = 1000

	// CMD8 attempts before concluding the card predates 2.0
	InterfaceConditionRetryCount = 10

	// ACMD51 SCR read attempts
	ConfigurationRegisterRetryCount = 5

	// CMD6 status polls while the switch is busy
	SwitchRetryCount = 4

	// CMD16 attempts
	SetBlockLengthRetryCount = 10

	// register-level waits inside the backend
	ControllerTimeoutMicroseconds uint32 = 1000000

	// waiting for the card to reach a stable state, one minute
	ControllerStatusTimeoutMicroseconds uint32 = 60000000

	// per-chunk attempts in the polled block I/O path
	IoRetryCount = 5

	MaxBlockSize  uint32 = 512
	MaxBlockCount uint32 = 0xFFFF
)
