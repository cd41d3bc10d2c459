package sd

// SdError is the status type returned by every operation in this package
// and by backends. Zero is success, all failures are negative.
type SdError int32

const (
	Ok                  SdError = 0
	ErrTimeout          SdError = -1
	ErrDevice           SdError = -2
	ErrInvalidParameter SdError = -3
	ErrNotReady         SdError = -4
	ErrMediaChanged     SdError = -5
	ErrNoMedia          SdError = -6
	ErrUnsupported      SdError = -7
	ErrOutOfResources   SdError = -8
	ErrNotStarted       SdError = -9
	ErrCRC              SdError = -10
	ErrWriteProtected   SdError = -11
	ErrUnknown          SdError = -12
)

func (e SdError) Error() string {
	return e.String()
}

func (e SdError) String() string {
	switch e {
	case Ok:
		return "Ok"
	case ErrTimeout:
		return "ErrTimeout"
	case ErrDevice:
		return "ErrDevice"
	case ErrInvalidParameter:
		return "ErrInvalidParameter"
	case ErrNotReady:
		return "ErrNotReady"
	case ErrMediaChanged:
		return "ErrMediaChanged"
	case ErrNoMedia:
		return "ErrNoMedia"
	case ErrUnsupported:
		return "ErrUnsupported"
	case ErrOutOfResources:
		return "ErrOutOfResources"
	case ErrNotStarted:
		return "ErrNotStarted"
	case ErrCRC:
		return "ErrCRC"
	case ErrWriteProtected:
		return "ErrWriteProtected"
	}
	return "ErrUnknown"
}
