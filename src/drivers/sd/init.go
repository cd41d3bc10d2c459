package sd

import (
	"sdmmc/src/lib/trust"
)

const initDebug = false

// InitializeController runs the full card bring-up sequence. When
// resetHardware is set the host controller is reset first; error recovery
// re-runs the sequence without it so in-flight controller state survives.
func (c *Controller) InitializeController(resetHardware bool) error {
	if c.GetCardDetectStatus != nil {
		present, err := c.GetCardDetectStatus(c)
		if err != nil {
			return err
		}
		if !present {
			c.mediaPresent = false
			return ErrNoMedia
		}
	}
	if resetHardware {
		if err := c.backend.ResetController(c, ResetFlagAll); err != nil {
			return err
		}
		c.Stall(CardDelayMicroseconds)
	}
	if err := c.backend.InitializeController(c, 0); err != nil {
		return err
	}

	// the card identifies at 400kHz on a one bit bus
	c.MaxBlocksPerTransfer = MaxBlockCount
	c.BusWidth = 1
	c.ClockSpeed = Clock400kHz
	if err := c.setBusParameters(); err != nil {
		return err
	}
	if err := c.backend.InitializeController(c, 1); err != nil {
		return err
	}
	if err := c.waitForCardToInitialize(); err != nil {
		return err
	}
	if c.HostCapabilities&CapSpiMode != 0 {
		if err := c.spiCrcEnable(true); err != nil {
			return err
		}
	}
	if err := c.getCardIdentification(); err != nil {
		return err
	}
	if err := c.setCardAddress(); err != nil {
		return err
	}
	if err := c.readCardSpecificData(); err != nil {
		return err
	}
	if err := c.selectCard(); err != nil {
		return err
	}
	if err := c.configureEraseGroup(); err != nil {
		return err
	}
	if c.Version.IsSd() {
		if err := c.setSdFrequency(); err != nil {
			return err
		}
	} else {
		if err := c.setMmcFrequency(); err != nil {
			return err
		}
	}
	c.Stall(10000)

	// from here on only capabilities both sides have count
	c.CardCapabilities &= c.HostCapabilities
	if c.Version.IsSd() {
		if c.CardCapabilities&Cap4BitBus != 0 {
			c.BusWidth = 4
		}
		c.ClockSpeed = Clock25MHz
		if c.CardCapabilities&CapHighSpeed != 0 {
			c.ClockSpeed = Clock50MHz
		}
		if err := c.setBusParameters(); err != nil {
			return err
		}
	} else {
		if err := c.probeMmcBusWidth(); err != nil {
			return err
		}
		// without the high speed switch the CSD transfer rate stands
		if c.CardCapabilities&CapHighSpeed52MHz != 0 {
			c.ClockSpeed = Clock52MHz
		} else if c.CardCapabilities&CapHighSpeed != 0 {
			c.ClockSpeed = Clock26MHz
		}
		if err := c.setBusParameters(); err != nil {
			return err
		}
	}
	if err := c.setBlockLength(); err != nil {
		return err
	}
	if initDebug {
		trust.Infof("sd: %v card, %d bytes, width %d, clock %d",
			c.Version, c.UserCapacity, c.BusWidth, c.ClockSpeed)
	}
	c.mediaPresent = true
	c.mediaChanged = false
	return nil
}

// waitForCardToInitialize runs reset, interface condition, and the
// operating condition loop. A CMD55 failure at any point means the card
// does not speak application commands at all, so it diverts permanently
// to the MMC path.
func (c *Controller) waitForCardToInitialize() error {
	for attempt := 0; attempt < CardInitializeRetryCount; attempt++ {
		if err := c.resetCard(); err != nil {
			return err
		}
		sdVersion2 := false
		for try := 0; try < InterfaceConditionRetryCount; try++ {
			echoed, err := c.getInterfaceCondition()
			if err == nil {
				// a 2.0+ card echoes the check pattern back
				if echoed&0xFF == interfaceConditionArgument&0xFF {
					sdVersion2 = true
				}
				break
			}
			// older cards fail CMD8 outright, that is fine
			if try == InterfaceConditionRetryCount-1 {
				break
			}
			c.Stall(CardDelayMicroseconds)
		}
		ocr := uint32(0)
		ready := false
		for try := 0; try < OperatingConditionRetryCount; try++ {
			if err := c.applicationCommand(0); err != nil {
				// not an SD card
				return c.waitForMmcCardToInitialize()
			}
			cmd := Command{
				Index:        AcmdSendOperatingCondition,
				ResponseType: ResponseR3,
			}
			if ocr != 0 {
				cmd.Argument = ocr & OcrVoltageMask & c.Voltages
				if sdVersion2 {
					cmd.Argument |= OcrHighCapacity
				}
			}
			if err := c.sendCommand(&cmd); err != nil {
				return err
			}
			response := cmd.Response[0]
			if ocr == 0 {
				if response&OcrVoltageMask&c.Voltages == 0 {
					return ErrUnsupported
				}
				ocr = response
				continue
			}
			if response&OcrBusy != 0 {
				if sdVersion2 {
					c.Version = VersionSd2
				} else {
					c.Version = VersionSd1p0
				}
				if response&OcrHighCapacity != 0 {
					c.HighCapacity = true
				}
				if c.HostCapabilities&CapSpiMode != 0 {
					return c.spiReadOperatingCondition()
				}
				ready = true
				break
			}
			c.Stall(CardDelayMicroseconds)
		}
		if ready {
			return nil
		}
		if initDebug {
			trust.Debugf("sd: card not ready, attempt %d", attempt)
		}
	}
	return ErrNotReady
}

// waitForMmcCardToInitialize polls CMD1. The first successful response
// latches the negotiated operating conditions and resets the card once
// before polling the busy bit.
func (c *Controller) waitForMmcCardToInitialize() error {
	ocr := uint32(0)
	for try := 0; try < OperatingConditionRetryCount; try++ {
		cmd := Command{
			Index:        CmdSendMmcOperatingCondition,
			ResponseType: ResponseR3,
			Argument:     ocr,
		}
		if err := c.sendCommand(&cmd); err != nil {
			return err
		}
		response := cmd.Response[0]
		if ocr == 0 {
			ocr = response & OcrVoltageMask & c.Voltages
			ocr |= response & OcrAccessMode
			if err := c.resetCard(); err != nil {
				return err
			}
			continue
		}
		if response&OcrBusy != 0 {
			c.Version = VersionMmc3
			if response&OcrHighCapacity != 0 {
				c.HighCapacity = true
			}
			return nil
		}
		c.Stall(CardDelayMicroseconds)
	}
	return ErrNotReady
}

func (c *Controller) resetCard() error {
	cmd := Command{Index: CmdReset, ResponseType: ResponseNone}
	if err := c.sendCommand(&cmd); err != nil {
		return err
	}
	c.Stall(PostResetDelayMicroseconds)
	return nil
}

// getInterfaceCondition sends CMD8 and returns the echoed response word.
func (c *Controller) getInterfaceCondition() (uint32, error) {
	cmd := Command{
		Index:        CmdSendInterfaceCondition,
		ResponseType: ResponseR7,
		Argument:     interfaceConditionArgument,
	}
	if err := c.sendCommand(&cmd); err != nil {
		return 0, err
	}
	return cmd.Response[0], nil
}

// applicationCommand sends CMD55, which prefixes every ACMD.
func (c *Controller) applicationCommand(rca uint32) error {
	cmd := Command{
		Index:        CmdApplicationSpecific,
		ResponseType: ResponseR1,
		Argument:     rcaArgument(rca),
	}
	return c.sendCommand(&cmd)
}

// spiReadOperatingCondition fetches the OCR over CMD58, the only way to
// see the high capacity bit in SPI mode.
func (c *Controller) spiReadOperatingCondition() error {
	cmd := Command{
		Index:        CmdSpiReadOperatingCondition,
		ResponseType: ResponseR3,
	}
	if err := c.sendCommand(&cmd); err != nil {
		return err
	}
	if cmd.Response[0]&OcrHighCapacity != 0 {
		c.HighCapacity = true
	}
	return nil
}

func (c *Controller) spiCrcEnable(enable bool) error {
	cmd := Command{
		Index:        CmdSpiCrcOnOff,
		ResponseType: ResponseR1,
	}
	if enable {
		cmd.Argument = 1
	}
	return c.sendCommand(&cmd)
}

// getCardIdentification reads and decodes the CID register.
func (c *Controller) getCardIdentification() error {
	cmd := Command{
		Index:        CmdAllSendCardIdentification,
		ResponseType: ResponseR2,
	}
	if c.HostCapabilities&CapSpiMode != 0 {
		cmd.Index = CmdSendCardIdentification
	}
	if err := c.sendCommand(&cmd); err != nil {
		return err
	}
	r := cmd.Response
	cid := &c.CardIdentification
	cid.ManufacturerId = byte(r[0] >> 24)
	cid.OemId[0] = byte(r[0] >> 16)
	cid.OemId[1] = byte(r[0] >> 8)
	cid.ProductName[0] = byte(r[0])
	cid.ProductName[1] = byte(r[1] >> 24)
	cid.ProductName[2] = byte(r[1] >> 16)
	cid.ProductName[3] = byte(r[1] >> 8)
	cid.ProductName[4] = byte(r[1])
	cid.ProductRevision = byte(r[2] >> 24)
	cid.SerialNumber = (r[2]&0x00FFFFFF)<<8 | r[3]>>24
	cid.ManufacturingDate = uint16((r[3] >> 8) & 0xFFF)
	return nil
}

// setCardAddress establishes the relative card address. SD cards pick
// their own, MMC cards take whatever the host assigns.
func (c *Controller) setCardAddress() error {
	if c.HostCapabilities&CapSpiMode != 0 {
		return nil
	}
	cmd := Command{
		Index:        CmdSetRelativeAddress,
		ResponseType: ResponseR6,
	}
	if !c.Version.IsSd() {
		c.CardAddress = 1
		cmd.Argument = rcaArgument(c.CardAddress)
	}
	if err := c.sendCommand(&cmd); err != nil {
		return err
	}
	if c.Version.IsSd() {
		c.CardAddress = cmd.Response[0] >> 16
	}
	return nil
}

func (c *Controller) selectCard() error {
	if c.HostCapabilities&CapSpiMode != 0 {
		return nil
	}
	cmd := Command{
		Index:        CmdSelectCard,
		ResponseType: ResponseR1B,
		Argument:     rcaArgument(c.CardAddress),
	}
	return c.sendCommand(&cmd)
}

// setBusParameters pushes the controller's bus width and clock speed to
// the card (when they changed from the one bit default) and then to the
// host.
func (c *Controller) setBusParameters() error {
	if c.BusWidth != 1 && c.HostCapabilities&CapSpiMode == 0 {
		if c.Version.IsSd() {
			if err := c.applicationCommand(c.CardAddress); err != nil {
				return err
			}
			cmd := Command{
				Index:        AcmdSetBusWidth,
				ResponseType: ResponseR1,
				Argument:     sdBusWidthArgument(c.BusWidth),
			}
			if err := c.sendCommand(&cmd); err != nil {
				return err
			}
		} else {
			value, err := mmcBusWidthValue(c.BusWidth)
			if err != nil {
				return err
			}
			if err := c.mmcSwitch(extCsdBusWidth, value); err != nil {
				return err
			}
		}
		c.Stall(PostResetDelayMicroseconds)
	}
	if err := c.backend.GetSetBusWidth(c, true); err != nil {
		return err
	}
	return c.backend.GetSetClockSpeed(c, true)
}

func sdBusWidthArgument(width uint32) uint32 {
	if width == 4 {
		return 2
	}
	return 0
}

func mmcBusWidthValue(width uint32) (byte, error) {
	switch width {
	case 1:
		return 0, nil
	case 4:
		return 1, nil
	case 8:
		return 2, nil
	}
	return 0, ErrInvalidParameter
}

// probeMmcBusWidth tries the widest bus first. A width the card refuses
// is skipped, but once the card has accepted a host side failure is
// fatal. The winning width is confirmed by reading the extended card
// data back over the new bus and recorded as a card capability.
func (c *Controller) probeMmcBusWidth() error {
	var extCsd [extCsdSize]byte
	widths := []uint32{8, 4, 1}
	var err error = ErrUnsupported
	for _, width := range widths {
		// the card does not advertise widths, only the host limits them
		if width == 8 && c.HostCapabilities&Cap8BitBus == 0 {
			continue
		}
		if width == 4 && c.HostCapabilities&Cap4BitBus == 0 {
			continue
		}
		value, widthErr := mmcBusWidthValue(width)
		if widthErr != nil {
			return widthErr
		}
		if err = c.mmcSwitch(extCsdBusWidth, value); err != nil {
			continue
		}
		c.BusWidth = width
		if err = c.setBusParameters(); err != nil {
			return err
		}
		if err = c.getExtendedCardData(extCsd[:]); err != nil {
			continue
		}
		switch width {
		case 8:
			c.CardCapabilities |= Cap8BitBus
		case 4:
			c.CardCapabilities |= Cap4BitBus
		}
		return nil
	}
	return err
}

// mmcSwitch writes a single extended card data byte via CMD6.
func (c *Controller) mmcSwitch(index byte, value byte) error {
	cmd := Command{
		Index:        CmdSwitch,
		ResponseType: ResponseR1B,
		Argument: mmcSwitchWriteByte |
			uint32(index)<<16 |
			uint32(value)<<8,
	}
	if err := c.sendCommand(&cmd); err != nil {
		return err
	}
	return c.waitForStateTransition()
}

// setBlockLength programs the card's block length, retrying because some
// cards need a beat after the frequency switch.
func (c *Controller) setBlockLength() error {
	var err error
	for try := 0; try < SetBlockLengthRetryCount; try++ {
		cmd := Command{
			Index:        CmdSetBlockLength,
			ResponseType: ResponseR1,
			Argument:     c.ReadBlockLength,
		}
		if err = c.sendCommand(&cmd); err == nil {
			return nil
		}
		c.Stall(CardDelayMicroseconds)
	}
	return err
}

// waitForStateTransition polls the card status until it reports ready for
// data in a settled state.
func (c *Controller) waitForStateTransition() error {
	if c.HostCapabilities&CapSpiMode != 0 {
		return nil
	}
	return c.PollUntil(ControllerStatusTimeoutMicroseconds, func() (bool, error) {
		cmd := Command{
			Index:        CmdSendStatus,
			ResponseType: ResponseR1,
			Argument:     rcaArgument(c.CardAddress),
		}
		if err := c.sendCommand(&cmd); err != nil {
			return false, err
		}
		status := cmd.Response[0]
		if status&StatusReadyForData == 0 {
			return false, nil
		}
		state := status & StatusCurrentStateMask
		return state == CardStateTransfer || state == CardStateStandby, nil
	})
}
