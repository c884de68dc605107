package hwio

import (
	"dotmat/emu/log"
)

// log unmapped accesses (useful when bringing up a register bank, verbose
// afterwards since games poke unused IO liberally)
const logUnmapped = false

type BankIO8 interface {
	// Read8 reads a byte from the given address. If peek is true, the read
	// shouldn't have any side effects (debugging/tracing).
	Read8(addr uint16, peek bool) uint8
	Write8(addr uint16, val uint8)
}

// Table maps one page of IO registers. The Game Boy exposes all of its
// hardware registers within a single 256-byte page (0xFF00-0xFFFF), so a
// flat per-offset array replaces a general range tree.
type Table struct {
	Name string
	Base uint16

	devs [256]BankIO8
}

func NewTable(name string, base uint16) *Table {
	return &Table{Name: name, Base: base}
}

func (t *Table) Reset() {
	clear(t.devs[:])
}

func (t *Table) slot(addr uint16) *BankIO8 {
	off := addr - t.Base
	if off >= 256 {
		return nil
	}
	return &t.devs[off]
}

func (t *Table) MapReg8(addr uint16, reg *Reg8) {
	slot := t.slot(addr)
	if slot == nil || *slot != nil {
		log.ModHwIo.FatalZ("bad reg mapping").
			String("name", reg.Name).
			Hex16("addr", addr).
			End()
		return
	}
	*slot = reg
}

func (t *Table) MapDevice(addr uint16, dev *Device) {
	for i := range uint16(dev.Size) {
		slot := t.slot(addr + i)
		if slot == nil || *slot != nil {
			log.ModHwIo.FatalZ("bad device mapping").
				String("name", dev.Name).
				Hex16("addr", addr+i).
				End()
			return
		}
		*slot = dev
	}
}

// MapBank maps a register bank (a structure containing multiple Reg8 fields
// carrying "hwio" struct tags) at the given base address. See InitRegs for
// the tag format.
func (t *Table) MapBank(addr uint16, bank any, bankNum int) {
	regs, err := bankGetRegs(bank, bankNum)
	if err != nil {
		panic(err)
	}

	for _, reg := range regs {
		t.MapReg8(addr+reg.offset, reg.ptr)
	}
}

func (t *Table) Unmap(begin, end uint16) {
	for addr := begin; addr <= end; addr++ {
		if slot := t.slot(addr); slot != nil {
			*slot = nil
		}
	}
}

// Read8 forwards the read to the device mapped at the given address.
// Unmapped addresses read as 0xFF, the Game Boy open-bus convention for the
// IO page.
func (t *Table) Read8(addr uint16, peek bool) uint8 {
	slot := t.slot(addr)
	if slot == nil || *slot == nil {
		if logUnmapped && !peek {
			log.ModHwIo.ErrorZ("unmapped Read8").
				String("name", t.Name).
				Hex16("addr", addr).
				End()
		}
		return 0xFF
	}
	return (*slot).Read8(addr, peek)
}

// Peek8 is a convenience function.
func (t *Table) Peek8(addr uint16) uint8 {
	return t.Read8(addr, true)
}

func (t *Table) Write8(addr uint16, val uint8) {
	slot := t.slot(addr)
	if slot == nil || *slot == nil {
		if logUnmapped {
			log.ModHwIo.ErrorZ("unmapped Write8").
				String("name", t.Name).
				Hex16("addr", addr).
				Hex8("val", val).
				End()
		}
		return
	}
	(*slot).Write8(addr, val)
}
