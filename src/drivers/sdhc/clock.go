package sdhc

import (
	"sdmmc/src/drivers/sd"
	"sdmmc/src/lib/trust"
)

const clockDebug = false

// GetSetBusWidth programs or reads back the host side bus width.
func (h *Host) GetSetBusWidth(c *sd.Controller, set bool) error {
	value := h.regs.Read(RegHostControl)
	if !set {
		switch {
		case value&hostControl8BitWidth != 0:
			c.BusWidth = 8
		case value&hostControl4BitWidth != 0:
			c.BusWidth = 4
		default:
			c.BusWidth = 1
		}
		return nil
	}
	value &^= hostControl4BitWidth | hostControl8BitWidth
	switch c.BusWidth {
	case 1:
	case 4:
		value |= hostControl4BitWidth
	case 8:
		value |= hostControl8BitWidth
	default:
		return sd.ErrInvalidParameter
	}
	h.regs.Write(RegHostControl, value)
	return nil
}

// GetSetClockSpeed programs the clock divisor for the controller's
// current target speed. Reading the speed back is not supported.
func (h *Host) GetSetClockSpeed(c *sd.Controller, set bool) error {
	if !set {
		return sd.ErrUnsupported
	}
	if c.FundamentalClock == 0 || c.ClockSpeed == 0 {
		return sd.ErrInvalidParameter
	}
	divisor := findDivisor(c.FundamentalClock, c.ClockSpeed,
		c.HostVersion >= hostVersion3)
	if clockDebug {
		trust.Debugf("sdhc: clock %d from %d, stored divisor 0x%x",
			c.ClockSpeed, c.FundamentalClock, divisor)
	}

	// quiesce the clock before touching the divisor
	h.regs.Write(RegClockControl, clockControlDefaultTimeout)
	value := clockControlDefaultTimeout |
		(divisor&0xFF)<<8 |
		(divisor>>8)<<6 |
		clockControlInternalEnable
	h.regs.Write(RegClockControl, value)
	err := c.PollUntil(sd.ControllerTimeoutMicroseconds, func() (bool, error) {
		return h.regs.Read(RegClockControl)&clockControlStable != 0, nil
	})
	if err != nil {
		return err
	}
	h.regs.Write(RegClockControl, value|clockControlSdClockEnable)
	return nil
}

// findDivisor picks the stored divisor encoding for the target clock.
// Version 3 hosts divide by any even number, older ones only by powers of
// two; both encode half the actual divisor in the register.
func findDivisor(fundamental, target uint32, version3 bool) uint32 {
	if fundamental <= target {
		return 0
	}
	var divisor uint32
	if version3 {
		divisor = 2
		for divisor < maxDivisorVersion3 {
			if fundamental/divisor <= target {
				break
			}
			divisor += 2
		}
	} else {
		divisor = 1
		for divisor < maxDivisorVersion2 {
			if fundamental/divisor <= target {
				break
			}
			divisor <<= 1
		}
	}
	return divisor >> 1
}
