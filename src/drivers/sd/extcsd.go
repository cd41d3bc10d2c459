package sd

import (
	"encoding/binary"

	"sdmmc/src/lib/trust"
)

const extCsdDebug = false

const extCsdSize = 512

// Extended card data byte offsets.
const (
	extCsdGeneralPartitionSize   = 143
	extCsdPartitionsAttribute    = 156
	extCsdPartitioningSupport    = 160
	extCsdRpmbSize               = 168
	extCsdEraseGroupDef          = 175
	extCsdPartitionConfiguration = 179
	extCsdBusWidth               = 183
	extCsdHighSpeed              = 185
	extCsdRevision               = 192
	extCsdCardType               = 196
	extCsdSectorCount            = 212
	extCsdWriteProtectGroupSize  = 221
	extCsdHighCapacityEraseSize  = 224
	extCsdBootSize               = 226
)

const (
	// partitioning support bit of the partitioning support byte
	extCsdPartitionSupport byte = 0x01

	// enhanced attribute bits of the partitions attribute byte
	extCsdPartitionEnhancedAttribute byte = 0x1F

	// 52MHz bit of the card type byte
	extCsdCardTypeHighSpeed52MHz byte = 0x2

	// CMD6 access mode: write a single byte
	mmcSwitchWriteByte uint32 = 3 << 24

	// boot, RPMB and general partition sizes scale by 128KB units
	extCsdPartitionShift = 17

	// below this the CSD capacity is authoritative
	sectorCountMinimumCapacity uint64 = 2 * 1024 * 1024 * 1024
)

// configureEraseGroup fills in the erase group size and the partition
// layout. SD cards and pre-4.0 MMC parts have no extended card data, for
// those the erase group is a single block and no partitions exist.
func (c *Controller) configureEraseGroup() error {
	c.EraseGroupSize = 1
	c.PartitionConfiguration = PartitionConfigurationNone
	if c.Version.IsSd() || c.Version < VersionMmc4 {
		return nil
	}
	var extCsd [extCsdSize]byte
	if err := c.getExtendedCardData(extCsd[:]); err != nil {
		return err
	}
	revision := extCsd[extCsdRevision]
	if revision >= 2 {
		sectorCount := binary.LittleEndian.Uint32(
			extCsd[extCsdSectorCount : extCsdSectorCount+4])
		capacity := uint64(sectorCount) * uint64(MaxBlockSize)
		if capacity > sectorCountMinimumCapacity {
			c.UserCapacity = capacity
		}
	}
	switch revision {
	case 0:
		c.Version = VersionMmc4
	case 1:
		c.Version = VersionMmc4p1
	case 2:
		c.Version = VersionMmc4p2
	case 3:
		c.Version = VersionMmc4p3
	case 5:
		c.Version = VersionMmc4p41
	case 6:
		c.Version = VersionMmc4p5
	}

	supported := extCsd[extCsdPartitioningSupport]&extCsdPartitionSupport != 0
	enhanced := extCsd[extCsdPartitionsAttribute]&
		extCsdPartitionEnhancedAttribute != 0
	if supported && enhanced {
		// partitioned media must use the high capacity erase unit, and
		// ERASE_GROUP_DEF resets on every power cycle
		if err := c.mmcSwitch(extCsdEraseGroupDef, 1); err != nil {
			return err
		}
		c.EraseGroupSize = uint32(extCsd[extCsdHighCapacityEraseSize]) * 1024
	} else {
		c.EraseGroupSize = c.csdEraseGroupBlocks()
	}
	if supported || extCsd[extCsdBootSize] != 0 {
		c.PartitionConfiguration = uint32(extCsd[extCsdPartitionConfiguration])
	}
	c.BootCapacity = uint64(extCsd[extCsdBootSize]) << extCsdPartitionShift
	c.RpmbCapacity = uint64(extCsd[extCsdRpmbSize]) << extCsdPartitionShift
	eraseSize := uint64(extCsd[extCsdHighCapacityEraseSize])
	writeProtectSize := uint64(extCsd[extCsdWriteProtectGroupSize])
	for i := 0; i < 4; i++ {
		offset := extCsdGeneralPartitionSize + i*3
		size := uint64(extCsd[offset]) |
			uint64(extCsd[offset+1])<<8 |
			uint64(extCsd[offset+2])<<16
		c.GeneralPartitionCapacity[i] =
			size * eraseSize * writeProtectSize * 512 * 1024
	}
	if extCsdDebug {
		trust.Debugf("sd: extcsd rev %d erase group %d partition config 0x%x",
			revision, c.EraseGroupSize, c.PartitionConfiguration)
	}
	return nil
}

// getExtendedCardData reads the 512 byte extended card data register.
func (c *Controller) getExtendedCardData(buf []byte) error {
	if len(buf) < extCsdSize {
		return ErrInvalidParameter
	}
	cmd := Command{
		Index:        CmdMmcSendExtendedCardData,
		ResponseType: ResponseR1,
		Buffer:       buf[:extCsdSize],
		BufferSize:   extCsdSize,
	}
	return c.sendCommand(&cmd)
}
