package sdhc

import (
	"sdmmc/src/drivers/sd"
	"sdmmc/src/lib/trust"
)

const hostDebug = false

// Host implements sd.Backend for a standard host controller.
type Host struct {
	regs RegisterBlock
}

func NewHost(regs RegisterBlock) *Host {
	return &Host{regs: regs}
}

// Registers exposes the register block, mainly so consumers can wire up
// card detect callbacks against the present state register.
func (h *Host) Registers() RegisterBlock {
	return h.regs
}

// CardDetect reads the present state card inserted bit. Usable as the
// controller's GetCardDetectStatus callback on slots that wire it.
func (h *Host) CardDetect(c *sd.Controller) (bool, error) {
	return h.regs.Read(RegPresentState)&presentStateCardInserted != 0, nil
}

// WriteProtect reads the present state write enable line, which is low
// when the mechanical lock is on.
func (h *Host) WriteProtect(c *sd.Controller) (bool, error) {
	return h.regs.Read(RegPresentState)&presentStateWriteEnabled == 0, nil
}

// InitializeController runs the two setup phases. Phase 0 discovers what
// the silicon offers before the engine touches the bus; phase 1 powers
// the slot and arms status reporting once bus parameters are programmed.
func (h *Host) InitializeController(c *sd.Controller, phase int) error {
	switch phase {
	case 0:
		return h.discoverCapabilities(c)
	case 1:
		return h.powerOn(c)
	}
	return sd.ErrInvalidParameter
}

func (h *Host) discoverCapabilities(c *sd.Controller) error {
	c.HostVersion = uint16((h.regs.Read(RegSlotStatusVersion) >> 16) & 0xFF)
	caps := h.regs.Read(RegCapabilities)
	if caps&capabilityAdma2 != 0 {
		c.HostCapabilities |= sd.CapAdma2
	}
	if caps&capabilityHighSpeed != 0 {
		c.HostCapabilities |= sd.CapHighSpeed | sd.CapHighSpeed52MHz
	}

	// every standard host does four bit transfers; auto CMD12 arrived
	// with the 2.00 specification
	c.HostCapabilities |= sd.Cap4BitBus
	if c.HostVersion >= hostVersion2 {
		c.HostCapabilities |= sd.CapAutoCmd12
	}

	if c.Voltages == 0 {
		if caps&capabilityVoltage3V3 != 0 {
			c.Voltages |= sd.Voltage32To33 | sd.Voltage33To34
		}
		if caps&capabilityVoltage3V0 != 0 {
			c.Voltages |= sd.Voltage29To30 | sd.Voltage30To31
		}
		if caps&capabilityVoltage1V8 != 0 {
			c.Voltages |= sd.Voltage165To195
		}
	}
	if c.Voltages == 0 {
		return sd.ErrDevice
	}
	if c.FundamentalClock == 0 {
		mask := uint32(capabilityBaseClockMaskV2)
		if c.HostVersion >= hostVersion3 {
			mask = capabilityBaseClockMaskV3
		}
		c.FundamentalClock =
			((caps >> capabilityBaseClockShift) & mask) * 1000000
	}
	if c.FundamentalClock == 0 {
		return sd.ErrDevice
	}
	if hostDebug {
		trust.Debugf("sdhc: host version %d caps 0x%08x clock %d",
			c.HostVersion, caps, c.FundamentalClock)
	}
	return nil
}

func (h *Host) powerOn(c *sd.Controller) error {
	// the rail follows the voltage window settled on in phase 0
	var power uint32
	switch {
	case c.Voltages&(sd.Voltage32To33|sd.Voltage33To34) != 0:
		power = hostControlPower3V3
	case c.Voltages&(sd.Voltage29To30|sd.Voltage30To31) != 0:
		power = hostControlPower3V0
	case c.Voltages&sd.Voltage165To195 != 0:
		power = hostControlPower1V8
	default:
		return sd.ErrDevice
	}
	value := h.regs.Read(RegHostControl)
	value &^= hostControlPowerMask
	value |= power | hostControlPowerEnable
	h.regs.Write(RegHostControl, value)

	h.regs.Write(RegInterruptStatusEnable, statusEnableDefaultMask)
	// polled operation, nothing signals
	h.regs.Write(RegInterruptSignalEnable, 0)
	return nil
}

// ResetController pulses the requested reset lines and waits for the
// hardware to drop them.
func (h *Host) ResetController(c *sd.Controller, flags uint32) error {
	var resetBits uint32
	if flags&sd.ResetFlagAll != 0 {
		resetBits |= clockControlResetAll
	}
	if flags&sd.ResetFlagCommandLine != 0 {
		resetBits |= clockControlResetCommandLine
	}
	if flags&sd.ResetFlagDataLine != 0 {
		resetBits |= clockControlResetDataLine
	}
	value := h.regs.Read(RegClockControl)
	h.regs.Write(RegClockControl, value|resetBits)
	err := c.PollUntil(sd.ControllerTimeoutMicroseconds, func() (bool, error) {
		return h.regs.Read(RegClockControl)&resetBits == 0, nil
	})
	if err != nil {
		return err
	}
	if flags&sd.ResetFlagAll != 0 {
		h.regs.Write(RegInterruptStatusEnable, 0xFFFFFFFF)
		h.regs.Write(RegInterruptStatus, 0xFFFFFFFF)
	}
	return nil
}

// SendCommand issues one command, polls it to completion, captures the
// response, and moves any attached data through the FIFO.
func (h *Host) SendCommand(c *sd.Controller, cmd *sd.Command) error {
	inhibit := presentStateCommandInhibit | presentStateDataInhibit

	// stop transmission may go out while the data lines are busy
	if cmd.Index == sd.CmdStopTransmission &&
		cmd.ResponseType&sd.ResponseBusy == 0 {
		inhibit = presentStateCommandInhibit
	}
	err := c.PollUntil(sd.ControllerTimeoutMicroseconds, func() (bool, error) {
		return h.regs.Read(RegPresentState)&inhibit == 0, nil
	})
	if err != nil {
		return err
	}
	h.regs.Write(RegInterruptStatus, 0xFFFFFFFF)

	var flags uint32
	switch {
	case cmd.ResponseType&sd.ResponsePresent == 0:
	case cmd.ResponseType&sd.Response136Bit != 0:
		flags |= commandResponse136
	case cmd.ResponseType&sd.ResponseBusy != 0:
		flags |= commandResponse48Busy
	default:
		flags |= commandResponse48
	}
	if cmd.ResponseType&sd.ResponseValidCrc != 0 {
		flags |= commandCrcCheckEnable
	}
	if cmd.ResponseType&sd.ResponseOpcode != 0 {
		flags |= commandIndexCheck
	}
	if cmd.BufferSize > 0 {
		flags |= commandDataPresent
		if !cmd.Write {
			flags |= commandTransferRead
		}
		if cmd.BufferSize > sd.MaxBlockSize {
			flags |= commandMultipleBlocks | commandBlockCountEnable
			if c.HostCapabilities&sd.CapAutoCmd12 != 0 {
				flags |= commandAutoCmd12
			}
			blockCount := cmd.BufferSize / sd.MaxBlockSize
			h.regs.Write(RegBlockSizeCount,
				sd.MaxBlockSize|blockSizeDmaBoundary512K|
					blockCount<<blockCountShift)
		} else {
			h.regs.Write(RegBlockSizeCount,
				cmd.BufferSize|blockSizeDmaBoundary512K)
		}
	}
	h.regs.Write(RegArgument1, cmd.Argument)
	h.regs.Write(RegCommand, uint32(cmd.Index)<<commandIndexShift|flags)

	err = c.PollUntil(sd.ControllerTimeoutMicroseconds, func() (bool, error) {
		return h.regs.Read(RegInterruptStatus) != 0, nil
	})
	if err != nil {
		return err
	}
	status := h.regs.Read(RegInterruptStatus)
	if status&interruptCommandTimeout != 0 {
		h.regs.Write(RegInterruptStatus, status)
		if resetErr := h.ResetController(c, sd.ResetFlagCommandLine); resetErr != nil {
			return resetErr
		}
		return sd.ErrTimeout
	}
	if status&interruptErrorMask != 0 {
		h.regs.Write(RegInterruptStatus, status)
		if hostDebug {
			trust.Debugf("sdhc: cmd %d error status 0x%08x", cmd.Index, status)
		}
		return sd.ErrDevice
	}
	if status&interruptCommandComplete != 0 {
		h.regs.Write(RegInterruptStatus, interruptCommandComplete)
		h.captureResponse(c, cmd)
	}
	if cmd.BufferSize > 0 {
		if cmd.Write {
			return h.writeData(c, cmd)
		}
		return h.readData(c, cmd)
	}
	return nil
}

// captureResponse pulls the response registers into the command. A
// 136-bit response lands with its highest 32 bits in Response[0]; hosts
// with the shifted quirk deliver everything one byte low and get folded
// back.
func (h *Host) captureResponse(c *sd.Controller, cmd *sd.Command) {
	if cmd.ResponseType&sd.ResponsePresent == 0 {
		return
	}
	if cmd.ResponseType&sd.Response136Bit != 0 {
		cmd.Response[3] = h.regs.Read(RegResponse10)
		cmd.Response[2] = h.regs.Read(RegResponse32)
		cmd.Response[1] = h.regs.Read(RegResponse54)
		cmd.Response[0] = h.regs.Read(RegResponse76)
		if c.HostCapabilities&sd.CapResponse136Shifted != 0 {
			cmd.Response[0] = cmd.Response[0]<<8 |
				(cmd.Response[1]>>24)&0xFF
			cmd.Response[1] = cmd.Response[1]<<8 |
				(cmd.Response[2]>>24)&0xFF
			cmd.Response[2] = cmd.Response[2]<<8 |
				(cmd.Response[3]>>24)&0xFF
			cmd.Response[3] = cmd.Response[3] << 8
		}
		return
	}
	cmd.Response[0] = h.regs.Read(RegResponse10)
}
