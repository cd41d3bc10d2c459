// Command sdconsole is an interactive monitor for the driver stack. It
// brings up the generic engine over the standard host backend against a
// simulated slot, then takes single key commands from the terminal. It
// exists to poke at initialization and block I/O behavior without
// hardware on the bench.
package main

import (
	"flag"
	"fmt"

	"github.com/mattn/go-tty"

	"sdmmc/src/drivers/sd"
	"sdmmc/src/drivers/sdhc"
	"sdmmc/src/drivers/sdhc/sdsim"
	"sdmmc/src/lib/trust"
)

var (
	mmc      = flag.Bool("mmc", false, "simulate an MMC part instead of an SD card")
	capacity = flag.Uint64("capacity", 4<<30, "simulated card capacity in bytes")
	verbose  = flag.Bool("v", false, "log at debug level")
)

func main() {
	flag.Parse()
	if !*verbose {
		trust.SetLevel(trust.ErrorMask | trust.WarnMask | trust.InfoMask)
	}

	kind := sdsim.CardSd2HighCapacity
	if *mmc {
		kind = sdsim.CardMmc4p5
	}
	card := sdsim.NewCard(kind, *capacity)
	regs := sdsim.NewRegisterFile(card)
	host := sdhc.NewHost(regs)
	controller, err := sd.CreateController(sd.CreationParameters{
		Backend:             host,
		GetCardDetectStatus: host.CardDetect,
	})
	if err != nil {
		trust.Fatalf(1, "create controller: %v", err)
	}
	if err := controller.InitializeController(true); err != nil {
		trust.Fatalf(1, "initialize: %v", err)
	}
	printSummary(controller)

	t, err := tty.Open()
	if err != nil {
		trust.Fatalf(1, "open tty: %v", err)
	}
	defer t.Close()

	block := uint64(0)
	fmt.Println("keys: i=reinit  r=read block  w=write block  s=status  q=quit")
	for {
		r, err := t.ReadRune()
		if err != nil {
			trust.Fatalf(1, "read key: %v", err)
		}
		switch r {
		case 'q':
			return
		case 'i':
			if err := controller.InitializeController(true); err != nil {
				trust.Errorf("reinitialize: %v", err)
				continue
			}
			printSummary(controller)
		case 's':
			printSummary(controller)
		case 'r':
			buf := make([]byte, 512)
			if err := controller.BlockIoPolled(block, 1, buf, false); err != nil {
				trust.Errorf("read block %d: %v", block, err)
				continue
			}
			fmt.Printf("block %5d: % x\n", block, buf[:32])
			block++
		case 'w':
			buf := make([]byte, 512)
			for i := range buf {
				buf[i] = byte(block + uint64(i))
			}
			if err := controller.BlockIoPolled(block, 1, buf, true); err != nil {
				trust.Errorf("write block %d: %v", block, err)
				continue
			}
			fmt.Printf("block %5d written\n", block)
		}
	}
}

func printSummary(c *sd.Controller) {
	size, count, err := c.GetMediaParameters()
	if err != nil {
		trust.Errorf("media parameters: %v", err)
		return
	}
	cid := c.CardIdentification
	trust.Infof("%v card %q: %d blocks of %d bytes, width %d, clock %dHz",
		c.Version, string(cid.ProductName[:]), count, size, c.BusWidth, c.ClockSpeed)
}
