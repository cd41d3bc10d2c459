package sd

import (
	"bytes"
	"testing"
)

func TestBlockIoChunking(t *testing.T) {
	card := newFakeSd2Card(1 << 30)
	c, _ := initializedController(t, card, Cap4BitBus|CapAutoCmd12)

	// force three chunks: two full, one single block
	c.MaxBlocksPerTransfer = 8
	blockCount := uint32(8*2 + 1)
	buf := make([]byte, blockCount*512)
	if err := c.BlockIoPolled(100, blockCount, buf, false); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got := card.countCommands(CmdReadMultipleBlocks); got != 2 {
		t.Errorf("multi block reads: got %d, want 2", got)
	}
	if got := card.countCommands(CmdReadSingleBlock); got != 1 {
		t.Errorf("single block reads: got %d, want 1", got)
	}

	// each block carries its own number, so a wrong chunk offset shows
	for i := uint32(0); i < blockCount; i++ {
		block := buf[i*512 : (i+1)*512]
		want := byte(100 + i)
		if block[0] != want || block[511] != want {
			t.Fatalf("block %d: got fill 0x%x/0x%x, want 0x%x",
				i, block[0], block[511], want)
		}
	}
}

func TestStopTransmissionOnlyWithoutAutoCmd12(t *testing.T) {
	buf := make([]byte, 4*512)

	// no auto CMD12: multi block transfers end with an explicit stop
	card := newFakeSd2Card(1 << 30)
	c, _ := initializedController(t, card, Cap4BitBus)
	card.log = nil
	if err := c.BlockIoPolled(0, 4, buf, false); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got := card.countCommands(CmdStopTransmission); got != 1 {
		t.Errorf("stops without auto CMD12: got %d, want 1", got)
	}

	// auto CMD12 host: no explicit stop
	card = newFakeSd2Card(1 << 30)
	c, _ = initializedController(t, card, Cap4BitBus|CapAutoCmd12)
	card.log = nil
	if err := c.BlockIoPolled(0, 4, buf, false); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got := card.countCommands(CmdStopTransmission); got != 0 {
		t.Errorf("stops with auto CMD12: got %d, want 0", got)
	}

	// single block transfers never need one either way
	card = newFakeSd2Card(1 << 30)
	c, _ = initializedController(t, card, Cap4BitBus)
	card.log = nil
	if err := c.BlockIoPolled(0, 1, buf[:512], false); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got := card.countCommands(CmdStopTransmission); got != 0 {
		t.Errorf("stops on single block: got %d, want 0", got)
	}
}

func TestBlockIoRetriesThenReturnsBackendError(t *testing.T) {
	card := newFakeSd2Card(1 << 30)
	c, backend := initializedController(t, card, Cap4BitBus|CapAutoCmd12)

	backend.failSendCommand = ErrTimeout
	backend.commandLog = nil
	buf := make([]byte, 512)
	err := c.BlockIoPolled(0, 1, buf, false)
	if err != ErrTimeout {
		t.Fatalf("got %v, want %v", err, ErrTimeout)
	}
	attempts := 0
	for _, index := range backend.commandLog {
		if index == CmdReadSingleBlock {
			attempts++
		}
	}
	// the initial attempt plus one per allowed retry
	if attempts != IoRetryCount+1 {
		t.Errorf("data command attempts: got %d, want %d",
			attempts, IoRetryCount+1)
	}
}

func TestBlockIoBounds(t *testing.T) {
	card := newFakeSd2Card(1 << 20) // 2048 blocks
	c, _ := initializedController(t, card, Cap4BitBus|CapAutoCmd12)

	buf := make([]byte, 2*512)
	if err := c.BlockIoPolled(2047, 2, buf, false); err != ErrInvalidParameter {
		t.Errorf("past the end: got %v, want %v", err, ErrInvalidParameter)
	}
	if err := c.BlockIoPolled(0, 2, buf[:512], false); err != ErrInvalidParameter {
		t.Errorf("short buffer: got %v, want %v", err, ErrInvalidParameter)
	}
	// offset plus count wrapping around 64 bits must not slip through
	if err := c.BlockIoPolled(^uint64(0)-1, 2, buf, false); err != ErrInvalidParameter {
		t.Errorf("wrapping offset: got %v, want %v", err, ErrInvalidParameter)
	}
	if err := c.BlockIoPolled(2046, 2, buf, false); err != nil {
		t.Errorf("last two blocks: %v", err)
	}
}

func TestBlockIoWithoutMedia(t *testing.T) {
	backend := newFakeBackend(newFakeSd2Card(1<<30), Cap4BitBus)
	c := newTestController(backend)
	buf := make([]byte, 512)
	if err := c.BlockIoPolled(0, 1, buf, false); err != ErrNoMedia {
		t.Fatalf("got %v, want %v", err, ErrNoMedia)
	}
}

func TestBlockIoWriteProtect(t *testing.T) {
	card := newFakeSd2Card(1 << 30)
	c, _ := initializedController(t, card, Cap4BitBus|CapAutoCmd12)
	c.GetWriteProtectStatus = func(*Controller) (bool, error) {
		return true, nil
	}
	buf := make([]byte, 512)
	if err := c.BlockIoPolled(0, 1, buf, true); err != ErrWriteProtected {
		t.Fatalf("write: got %v, want %v", err, ErrWriteProtected)
	}
	// reads are unaffected by the lock
	if err := c.BlockIoPolled(0, 1, buf, false); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestBlockIoWriteReadBack(t *testing.T) {
	card := newFakeSd2Card(1 << 30)
	c, _ := initializedController(t, card, Cap4BitBus|CapAutoCmd12)

	want := make([]byte, 3*512)
	for i := range want {
		want[i] = byte(i * 7)
	}
	if err := c.BlockIoPolled(42, 3, want, true); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got := make([]byte, 3*512)
	if err := c.BlockIoPolled(42, 3, got, false); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("read back data differs")
	}
}

func TestAbortTransactionResetsLines(t *testing.T) {
	card := newFakeSd2Card(1 << 30)
	c, backend := initializedController(t, card, Cap4BitBus|CapAutoCmd12)
	backend.resets = nil
	if err := c.AbortTransaction(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if len(backend.resets) != 1 ||
		backend.resets[0] != ResetFlagCommandLine|ResetFlagDataLine {
		t.Errorf("resets: got %v", backend.resets)
	}
}

func TestErrorRecoveryReinitializes(t *testing.T) {
	card := newFakeSd2Card(1 << 30)
	c, backend := initializedController(t, card, Cap4BitBus|CapAutoCmd12)
	backend.initPhases = nil
	backend.resets = nil
	if err := c.ErrorRecovery(); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	// recovery reruns both phases but never the hardware reset
	if len(backend.initPhases) != 2 {
		t.Errorf("init phases: got %v", backend.initPhases)
	}
	for _, flags := range backend.resets {
		if flags&ResetFlagAll != 0 {
			t.Errorf("recovery performed a full hardware reset")
		}
	}
}
