package sd

import (
	"sdmmc/src/lib/trust"
)

const csdDebug = false

// Transfer speed multipliers, tenths. Index comes from bits 6:3 of the
// transfer speed byte; the zero entry is reserved.
var transferSpeedMultipliers = [16]uint32{
	0, 10, 12, 13, 15, 20, 26, 30, 35, 40, 45, 52, 55, 60, 70, 80,
}

// Transfer speed rate units, already divided by ten to pair with the
// multiplier table: 100kbit/s, 1Mbit/s, 10Mbit/s, 100Mbit/s.
var transferSpeedUnits = [8]uint32{
	10000, 100000, 1000000, 10000000, 0, 0, 0, 0,
}

// readCardSpecificData issues CMD9 and decodes the result. The 128-bit
// register arrives with bits 127:96 in Response[0] down to bits 31:0 in
// Response[3].
func (c *Controller) readCardSpecificData() error {
	cmd := Command{
		Index:        CmdSendCardSpecificData,
		ResponseType: ResponseR2,
		Argument:     rcaArgument(c.CardAddress),
	}
	if err := c.sendCommand(&cmd); err != nil {
		return err
	}
	r := cmd.Response

	csdStructure := r[0] >> 30
	if c.Version == VersionInvalid {
		// SD card that never answered CMD8
		if csdStructure == 0 {
			c.Version = VersionSd1p0
		} else {
			c.Version = VersionSd2
		}
	} else if c.Version.IsMmc() {
		switch (r[0] >> 26) & 0xF {
		case 0:
			c.Version = VersionMmc1p2
		case 1:
			c.Version = VersionMmc1p4
		case 2:
			c.Version = VersionMmc2p2
		case 3:
			c.Version = VersionMmc3
		default:
			c.Version = VersionMmc4
		}
	}

	transferSpeed := r[0] & 0xFF
	frequency := transferSpeedUnits[transferSpeed&0x7] *
		transferSpeedMultipliers[(transferSpeed>>3)&0xF]
	if frequency != 0 {
		c.ClockSpeed = frequency
	}

	c.ReadBlockLength = 1 << ((r[1] >> 16) & 0xF)
	if c.Version.IsSd() {
		c.WriteBlockLength = c.ReadBlockLength
	} else {
		c.WriteBlockLength = 1 << ((r[3] >> 22) & 0xF)
	}

	// capacity uses the unclamped block length
	var capacityBase, capacityShift uint64
	if c.HighCapacity && csdStructure != 0 {
		capacityBase = uint64((r[1]&0x3F)<<16 | r[2]>>16)
		capacityShift = 8
	} else {
		capacityBase = uint64((r[1]&0x3FF)<<2 | r[2]>>30)
		capacityShift = uint64((r[2] >> 15) & 0x7)
	}
	c.UserCapacity = (capacityBase + 1) << (capacityShift + 2) *
		uint64(c.ReadBlockLength)

	if c.ReadBlockLength > MaxBlockSize {
		c.ReadBlockLength = MaxBlockSize
	}
	if c.WriteBlockLength > MaxBlockSize {
		c.WriteBlockLength = MaxBlockSize
	}
	copy(c.CardSpecificData[:], r[:])
	if csdDebug {
		trust.Debugf("sd: csd structure %d capacity %d blocklen %d/%d",
			csdStructure, c.UserCapacity, c.ReadBlockLength, c.WriteBlockLength)
	}
	if c.HostCapabilities&CapSpiMode != 0 {
		return nil
	}
	return c.waitForStateTransition()
}

// csdEraseGroupBlocks derives the erase group size, in write blocks, from
// the stored raw register for pre-4.0 parts and parts without the high
// capacity erase definition.
func (c *Controller) csdEraseGroupBlocks() uint32 {
	size := (c.CardSpecificData[2] >> 10) & 0x1F
	mult := (c.CardSpecificData[2] >> 5) & 0x1F
	return (size + 1) * (mult + 1)
}
