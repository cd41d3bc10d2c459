// Package sdsim simulates a standard host controller slot with a card in
// it, at register level. It backs the console tool and the end to end
// tests; no hardware is involved anywhere.
package sdsim

import (
	"encoding/binary"

	"sdmmc/src/drivers/sd"
)

type CardKind int

const (
	CardSd2HighCapacity CardKind = iota
	CardMmc4p5
)

// Card models the card side of the protocol. It answers sd.Command
// transactions the way a real card would, including the personality
// differences the initialization sequence keys off.
type Card struct {
	Kind          CardKind
	CapacityBytes uint64
	HighSpeed     bool

	rca         uint32
	appNext     bool
	ocrQueries  int
	cmd1Queries int
	selected    bool
	extCsd      [512]byte
	blocks      map[uint64][]byte

	// Log records every opcode the card saw, in order.
	Log []sd.CommandIndex
}

func NewCard(kind CardKind, capacityBytes uint64) *Card {
	c := &Card{
		Kind:          kind,
		CapacityBytes: capacityBytes,
		HighSpeed:     true,
		blocks:        make(map[uint64][]byte),
	}
	if kind == CardMmc4p5 {
		c.extCsd[192] = 6   // revision: 4.5
		c.extCsd[196] = 0x3 // card type: 26 and 52MHz
		binary.LittleEndian.PutUint32(c.extCsd[212:216],
			uint32(capacityBytes/uint64(sd.MaxBlockSize)))
	}
	return c
}

// Execute answers one command. A nil return means the card responded;
// sd.ErrTimeout means it kept the line silent, which the register file
// turns into a command timeout.
func (card *Card) Execute(cmd *sd.Command) error {
	card.Log = append(card.Log, cmd.Index)
	app := card.appNext
	card.appNext = false
	if app {
		switch cmd.Index {
		case sd.AcmdSendOperatingCondition:
			return card.sendOperatingCondition(cmd)
		case sd.AcmdSendSdConfigurationRegister:
			return card.sendConfigurationRegister(cmd)
		case sd.AcmdSetBusWidth:
			cmd.Response[0] = card.status()
			return nil
		}
	}
	switch cmd.Index {
	case sd.CmdReset:
		card.selected = false
		return nil
	case sd.CmdSendInterfaceCondition:
		if card.Kind == CardMmc4p5 {
			if cmd.Buffer != nil {
				copy(cmd.Buffer, card.extCsd[:])
				cmd.Response[0] = card.status()
				return nil
			}
			return sd.ErrTimeout
		}
		cmd.Response[0] = cmd.Argument
		return nil
	case sd.CmdApplicationSpecific:
		if card.Kind == CardMmc4p5 {
			return sd.ErrTimeout
		}
		card.appNext = true
		cmd.Response[0] = card.status()
		return nil
	case sd.CmdSendMmcOperatingCondition:
		card.cmd1Queries++
		response := sd.Voltage32To33 | sd.Voltage33To34 | sd.OcrHighCapacity
		if card.cmd1Queries > 1 {
			response |= sd.OcrBusy
		}
		cmd.Response[0] = response
		return nil
	case sd.CmdAllSendCardIdentification:
		cmd.Response[0] = 0x03<<24 | uint32('S')<<16 | uint32('D')<<8 | uint32('S')
		cmd.Response[1] = uint32('I')<<24 | uint32('M')<<16 | uint32('0')<<8 | uint32('1')
		cmd.Response[2] = 0x10<<24 | 0x00BEEF
		cmd.Response[3] = 0xBE<<24 | 0x184<<8
		return nil
	case sd.CmdSetRelativeAddress:
		if card.Kind == CardMmc4p5 {
			card.rca = cmd.Argument >> 16
			cmd.Response[0] = card.status()
		} else {
			card.rca = 0xB007
			cmd.Response[0] = card.rca << 16
		}
		return nil
	case sd.CmdSendCardSpecificData:
		card.fillCardSpecificData(cmd)
		return nil
	case sd.CmdSelectCard:
		card.selected = true
		cmd.Response[0] = card.status()
		return nil
	case sd.CmdSendStatus:
		cmd.Response[0] = card.status()
		return nil
	case sd.CmdSwitch:
		return card.doSwitch(cmd)
	case sd.CmdSetBlockLength:
		cmd.Response[0] = card.status()
		return nil
	case sd.CmdReadSingleBlock, sd.CmdReadMultipleBlocks:
		card.readBlocks(cmd)
		return nil
	case sd.CmdWriteSingleBlock, sd.CmdWriteMultipleBlocks:
		card.writeBlocks(cmd)
		return nil
	case sd.CmdStopTransmission:
		cmd.Response[0] = card.status()
		return nil
	}
	return sd.ErrTimeout
}

func (card *Card) status() uint32 {
	state := sd.CardStateStandby
	if card.selected {
		state = sd.CardStateTransfer
	}
	return sd.StatusReadyForData | state
}

func (card *Card) sendOperatingCondition(cmd *sd.Command) error {
	card.ocrQueries++
	response := sd.Voltage32To33 | sd.Voltage33To34
	if card.ocrQueries > 1 {
		response |= sd.OcrBusy | sd.OcrHighCapacity
	}
	cmd.Response[0] = response
	return nil
}

func (card *Card) sendConfigurationRegister(cmd *sd.Command) error {
	// spec 2.0, one and four bit widths
	binary.BigEndian.PutUint32(cmd.Buffer[0:4], 2<<24|0x5<<16)
	binary.BigEndian.PutUint32(cmd.Buffer[4:8], 0)
	cmd.Response[0] = card.status()
	return nil
}

func (card *Card) fillCardSpecificData(cmd *sd.Command) {
	if card.Kind == CardMmc4p5 {
		cmd.Response[0] = 1<<30 | 4<<26 | 0x5A
		cmd.Response[1] = 9<<16 | 0x3F
		cmd.Response[2] = 0xFFFF<<16 | 31<<10 | 31<<5
		cmd.Response[3] = 9 << 22
		return
	}
	cSize := uint32(card.CapacityBytes>>19) - 1
	cmd.Response[0] = 1<<30 | 0x32
	cmd.Response[1] = 9<<16 | (cSize>>16)&0x3F
	cmd.Response[2] = (cSize & 0xFFFF) << 16
	cmd.Response[3] = 0
}

func (card *Card) doSwitch(cmd *sd.Command) error {
	if card.Kind == CardMmc4p5 {
		if cmd.Argument>>24&0x3 == 3 {
			index := cmd.Argument >> 16 & 0xFF
			card.extCsd[index] = byte(cmd.Argument >> 8 & 0xFF)
		}
		cmd.Response[0] = card.status()
		return nil
	}
	var status [16]uint32
	if card.HighSpeed {
		status[3] = 0x00020000 // function 1 supported
		status[4] = 0x01000000 // function 1 selected
	}
	for i, word := range status {
		binary.BigEndian.PutUint32(cmd.Buffer[i*4:i*4+4], word)
	}
	cmd.Response[0] = card.status()
	return nil
}

func (card *Card) readBlocks(cmd *sd.Command) {
	block := uint64(cmd.Argument)
	buf := cmd.Buffer[:cmd.BufferSize]
	for len(buf) > 0 {
		stored, ok := card.blocks[block]
		if ok {
			copy(buf[:sd.MaxBlockSize], stored)
		} else {
			for i := range buf[:sd.MaxBlockSize] {
				buf[i] = byte(block)
			}
		}
		buf = buf[sd.MaxBlockSize:]
		block++
	}
	cmd.Response[0] = card.status()
}

func (card *Card) writeBlocks(cmd *sd.Command) {
	block := uint64(cmd.Argument)
	buf := cmd.Buffer[:cmd.BufferSize]
	for len(buf) > 0 {
		stored := make([]byte, sd.MaxBlockSize)
		copy(stored, buf[:sd.MaxBlockSize])
		card.blocks[block] = stored
		buf = buf[sd.MaxBlockSize:]
		block++
	}
	cmd.Response[0] = card.status()
}
