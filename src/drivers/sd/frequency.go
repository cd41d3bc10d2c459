package sd

import (
	"encoding/binary"

	"sdmmc/src/lib/trust"
)

const frequencyDebug = false

// SD configuration register fields.
const (
	scrSpecVersionShift = 24
	scrSpecVersionMask  = 0xF
	scrSpec3Bit         = 1 << 15
	scrBusWidth4        = 0x4
	scrBusWidthShift    = 16
	scrBusWidthMask     = 0xF
)

// CMD6 switch arguments: function group 1 set to function 1 (high speed),
// all other groups left alone.
const (
	sdSwitchCheck  uint32 = 0x00FFFFF1
	sdSwitchSwitch uint32 = 0x80FFFFF1
)

// Switch status word fields, after byte swapping. Function 1 of group 1
// owns bit 1 of the 16-bit busy and support fields.
const (
	sdSwitchStatus3HighSpeedSupported uint32 = 0x00020000
	sdSwitchStatus4GroupOneMask       uint32 = 0x0F000000
	sdSwitchStatus4HighSpeed          uint32 = 0x01000000
	sdSwitchStatus7HighSpeedBusy      uint32 = 0x00020000
)

// setSdFrequency reads the SD configuration register to pin down the card
// version and bus widths, then negotiates high speed via CMD6 when both
// sides support it.
func (c *Controller) setSdFrequency() error {
	// start from scratch, a re-initialization must not inherit the
	// previous negotiation
	c.CardCapabilities = 0
	if c.HostCapabilities&CapSpiMode != 0 {
		return nil
	}
	var scr [8]byte
	var err error
	for try := 0; ; try++ {
		if err = c.applicationCommand(c.CardAddress); err != nil {
			return err
		}
		cmd := Command{
			Index:        AcmdSendSdConfigurationRegister,
			ResponseType: ResponseR1,
			Buffer:       scr[:],
			BufferSize:   uint32(len(scr)),
		}
		if err = c.sendCommand(&cmd); err == nil {
			break
		}
		if try >= ConfigurationRegisterRetryCount-1 {
			return err
		}
		c.Stall(50000)
	}
	scr0 := binary.BigEndian.Uint32(scr[0:4])

	switch (scr0 >> scrSpecVersionShift) & scrSpecVersionMask {
	case 0:
		c.Version = VersionSd1p0
	case 1:
		c.Version = VersionSd1p10
	default:
		if scr0&scrSpec3Bit != 0 {
			c.Version = VersionSd3
		} else {
			c.Version = VersionSd2
		}
	}
	if (scr0>>scrBusWidthShift)&scrBusWidthMask&scrBusWidth4 != 0 {
		c.CardCapabilities |= Cap4BitBus
	}
	if frequencyDebug {
		trust.Debugf("sd: scr 0x%08x version %v", scr0, c.Version)
	}

	// 1.0 cards predate CMD6
	if c.Version == VersionSd1p0 {
		return nil
	}

	var status [16]uint32
	for try := 0; ; try++ {
		if err := c.sdSwitch(sdSwitchCheck, &status); err != nil {
			return err
		}
		if status[7]&sdSwitchStatus7HighSpeedBusy == 0 {
			break
		}
		if try >= SwitchRetryCount-1 {
			return nil
		}
		c.Stall(CardDelayMicroseconds)
	}
	if status[3]&sdSwitchStatus3HighSpeedSupported == 0 {
		return nil
	}
	if c.HostCapabilities&(CapHighSpeed|CapHighSpeed52MHz) == 0 {
		return nil
	}
	if err := c.sdSwitch(sdSwitchSwitch, &status); err != nil {
		return err
	}
	if status[4]&sdSwitchStatus4GroupOneMask == sdSwitchStatus4HighSpeed {
		c.CardCapabilities |= CapHighSpeed
	}
	return nil
}

// sdSwitch issues CMD6 and returns the 512-bit switch status, byte
// swapped into host order.
func (c *Controller) sdSwitch(argument uint32, status *[16]uint32) error {
	var raw [64]byte
	cmd := Command{
		Index:        CmdSwitch,
		ResponseType: ResponseR1,
		Argument:     argument,
		Buffer:       raw[:],
		BufferSize:   uint32(len(raw)),
	}
	if err := c.sendCommand(&cmd); err != nil {
		return err
	}
	for i := range status {
		status[i] = binary.BigEndian.Uint32(raw[i*4 : i*4+4])
	}
	return nil
}

// setMmcFrequency switches a 4.0+ part to high speed timing and records
// whether it can run the 52MHz grade.
func (c *Controller) setMmcFrequency() error {
	c.CardCapabilities = 0
	if c.HostCapabilities&CapSpiMode != 0 {
		return nil
	}
	if c.Version < VersionMmc4 {
		return nil
	}
	var extCsd [extCsdSize]byte
	if err := c.getExtendedCardData(extCsd[:]); err != nil {
		return err
	}
	cardType := extCsd[extCsdCardType]
	if err := c.mmcSwitch(extCsdHighSpeed, 1); err != nil {
		return err
	}
	if err := c.getExtendedCardData(extCsd[:]); err != nil {
		return err
	}
	if extCsd[extCsdHighSpeed] == 0 {
		// switch ran but did not take
		return nil
	}
	c.CardCapabilities |= CapHighSpeed
	if cardType&extCsdCardTypeHighSpeed52MHz != 0 {
		c.CardCapabilities |= CapHighSpeed52MHz
	}
	return nil
}
