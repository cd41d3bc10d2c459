package sd

import (
	"sdmmc/src/lib/trust"
)

const blockIoDebug = false

// BlockIoPolled reads or writes blockCount blocks starting at blockOffset,
// polling the controller for completion. Transfers larger than the
// controller's per-command limit are split, and each chunk gets a bounded
// number of attempts with error recovery in between.
func (c *Controller) BlockIoPolled(blockOffset uint64, blockCount uint32, buf []byte, write bool) error {
	if !c.mediaPresent {
		return ErrNoMedia
	}
	if c.mediaChanged {
		return ErrMediaChanged
	}
	blockLength := c.ReadBlockLength
	if write {
		blockLength = c.WriteBlockLength
	}
	if blockLength == 0 {
		return ErrNotStarted
	}
	totalBlocks := c.UserCapacity / uint64(blockLength)
	// the sum blockOffset+blockCount can wrap a uint64
	if uint64(blockCount) > totalBlocks ||
		blockOffset > totalBlocks-uint64(blockCount) {
		return ErrInvalidParameter
	}
	if uint64(len(buf)) < uint64(blockCount)*uint64(blockLength) {
		return ErrInvalidParameter
	}
	if write && c.GetWriteProtectStatus != nil {
		protected, err := c.GetWriteProtectStatus(c)
		if err != nil {
			return err
		}
		if protected {
			return ErrWriteProtected
		}
	}

	offset := blockOffset
	remaining := blockCount
	bufOffset := uint64(0)
	for remaining > 0 {
		blocksThisRound := remaining
		if blocksThisRound > c.MaxBlocksPerTransfer {
			blocksThisRound = c.MaxBlocksPerTransfer
		}
		chunkBytes := uint64(blocksThisRound) * uint64(blockLength)
		chunk := buf[bufOffset : bufOffset+chunkBytes]
		// the first attempt is free, IoRetryCount more follow with
		// recovery in between
		var err error
		for try := 0; ; try++ {
			err = c.readWriteBlocksPolled(offset, blocksThisRound, chunk, write)
			if err == nil {
				break
			}
			if blockIoDebug {
				trust.Debugf("sd: block io at %d failed (try %d): %v",
					offset, try, err)
			}
			if try >= IoRetryCount {
				break
			}
			// recovery failing does not burn the remaining attempts
			if recoveryErr := c.ErrorRecovery(); recoveryErr != nil && blockIoDebug {
				trust.Debugf("sd: recovery failed: %v", recoveryErr)
			}
		}
		if err != nil {
			return err
		}
		offset += uint64(blocksThisRound)
		remaining -= blocksThisRound
		bufOffset += chunkBytes
	}
	return nil
}

// readWriteBlocksPolled performs one chunk as a single command.
func (c *Controller) readWriteBlocksPolled(blockOffset uint64, blockCount uint32, buf []byte, write bool) error {
	blockLength := c.ReadBlockLength
	cmd := Command{ResponseType: ResponseR1, Write: write}
	if write {
		blockLength = c.WriteBlockLength
		cmd.Index = CmdWriteSingleBlock
		if blockCount > 1 {
			cmd.Index = CmdWriteMultipleBlocks
		}
	} else {
		cmd.Index = CmdReadSingleBlock
		if blockCount > 1 {
			cmd.Index = CmdReadMultipleBlocks
		}
	}

	// high capacity cards address blocks, the rest address bytes
	if c.HighCapacity {
		cmd.Argument = uint32(blockOffset)
	} else {
		cmd.Argument = uint32(blockOffset * uint64(blockLength))
	}
	cmd.BufferSize = blockCount * blockLength
	cmd.Buffer = buf[:cmd.BufferSize]
	if err := c.sendCommand(&cmd); err != nil {
		return err
	}
	// auto CMD12 hosts stop on their own, and SPI transfers end with a
	// stop token instead
	if blockCount > 1 && c.HostCapabilities&(CapAutoCmd12|CapSpiMode) == 0 {
		stop := Command{
			Index:        CmdStopTransmission,
			ResponseType: ResponseR1B,
		}
		if err := c.sendCommand(&stop); err != nil {
			return err
		}
	}
	if write {
		return c.waitForStateTransition()
	}
	return nil
}

// AbortTransaction stops whatever transfer is on the bus and brings the
// card back to the transfer state.
func (c *Controller) AbortTransaction() error {
	return c.stopDataTransfer()
}

// ErrorRecovery aborts any outstanding transfer and re-runs card
// initialization without resetting the host controller.
func (c *Controller) ErrorRecovery() error {
	// a failed stop is expected when the card wedged mid-transfer
	if err := c.stopDataTransfer(); err != nil && blockIoDebug {
		trust.Debugf("sd: stop during recovery failed: %v", err)
	}
	return c.InitializeController(false)
}

// stopDataTransfer sends stop transmission, clears the host's command and
// data paths, and waits for the card to settle.
func (c *Controller) stopDataTransfer() error {
	stop := Command{
		Index:        CmdStopTransmission,
		ResponseType: ResponseR1B,
	}
	// ignored: the card may not be in a state to answer
	_ = c.sendCommand(&stop)
	flags := ResetFlagCommandLine | ResetFlagDataLine
	if err := c.backend.ResetController(c, flags); err != nil {
		return err
	}
	return c.waitForStateTransition()
}
