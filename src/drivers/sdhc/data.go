package sdhc

import (
	"encoding/binary"

	"sdmmc/src/drivers/sd"
)

// readData moves a read transfer out of the FIFO, up to one block per
// buffer ready notification.
func (h *Host) readData(c *sd.Controller, cmd *sd.Command) error {
	buf := cmd.Buffer
	remaining := cmd.BufferSize
	for remaining > 0 {
		status, err := h.waitForData(c)
		if err != nil {
			return err
		}
		if status&interruptBufferReadReady == 0 {
			continue
		}
		h.regs.Write(RegInterruptStatus, interruptBufferReadReady)
		count := remaining
		if count > sd.MaxBlockSize {
			count = sd.MaxBlockSize
		}
		words := (count + 3) / 4
		for i := uint32(0); i < words; i++ {
			binary.LittleEndian.PutUint32(buf[i*4:],
				h.regs.Read(RegBufferDataPort))
		}
		buf = buf[count:]
		remaining -= count
	}
	h.regs.Write(RegInterruptStatus, interruptBufferReadReady|
		interruptBufferWriteReady|interruptTransferComplete)
	return nil
}

// writeData feeds a write transfer into the FIFO.
func (h *Host) writeData(c *sd.Controller, cmd *sd.Command) error {
	buf := cmd.Buffer
	remaining := cmd.BufferSize
	for remaining > 0 {
		status, err := h.waitForData(c)
		if err != nil {
			return err
		}
		if status&interruptBufferWriteReady == 0 {
			continue
		}
		h.regs.Write(RegInterruptStatus, interruptBufferWriteReady)
		count := remaining
		if count > sd.MaxBlockSize {
			count = sd.MaxBlockSize
		}
		words := (count + 3) / 4
		for i := uint32(0); i < words; i++ {
			h.regs.Write(RegBufferDataPort,
				binary.LittleEndian.Uint32(buf[i*4:]))
		}
		buf = buf[count:]
		remaining -= count
	}
	h.regs.Write(RegInterruptStatus, interruptBufferReadReady|
		interruptBufferWriteReady|interruptTransferComplete)
	return nil
}

// waitForData polls for the next data-phase status, translating data
// errors into a data line reset.
func (h *Host) waitForData(c *sd.Controller) (uint32, error) {
	err := c.PollUntil(sd.ControllerTimeoutMicroseconds, func() (bool, error) {
		return h.regs.Read(RegInterruptStatus) != 0, nil
	})
	if err != nil {
		return 0, err
	}
	status := h.regs.Read(RegInterruptStatus)
	if status&interruptDataErrorMask != 0 {
		h.regs.Write(RegInterruptStatus, status)
		if resetErr := h.ResetController(c, sd.ResetFlagDataLine); resetErr != nil {
			return 0, resetErr
		}
		return 0, sd.ErrDevice
	}
	if status&interruptErrorMask != 0 {
		h.regs.Write(RegInterruptStatus, status)
		return 0, sd.ErrDevice
	}
	return status, nil
}
