package hwio_test

import (
	"testing"

	"dotmat/hw/hwio"
)

type testBank struct {
	CTRL   hwio.Reg8 `hwio:"offset=0x00,wcb"`
	STATUS hwio.Reg8 `hwio:"offset=0x01,rcb,readonly"`
	MASKED hwio.Reg8 `hwio:"offset=0x02,setmask=0xE0,romask=0x0F"`
	ALT    hwio.Reg8 `hwio:"offset=0x00,bank=1"`

	writes []uint8
	reads  int
}

func (b *testBank) WriteCTRL(old, val uint8) {
	b.writes = append(b.writes, val)
}

func (b *testBank) ReadSTATUS(val uint8) uint8 {
	b.reads++
	return val | 0x40
}

func TestRegCallbacks(t *testing.T) {
	b := &testBank{}
	hwio.MustInitRegs(b)

	tbl := hwio.NewTable("test", 0xFF00)
	tbl.MapBank(0xFF00, b, 0)

	tbl.Write8(0xFF00, 0x12)
	tbl.Write8(0xFF00, 0x34)
	if len(b.writes) != 2 || b.writes[0] != 0x12 || b.writes[1] != 0x34 {
		t.Errorf("write callback log = %#v", b.writes)
	}
	if b.CTRL.Value != 0x34 {
		t.Errorf("CTRL value = %#02x, want 0x34", b.CTRL.Value)
	}

	b.STATUS.Value = 0x01
	if got := tbl.Read8(0xFF01, false); got != 0x41 {
		t.Errorf("STATUS read = %#02x, want 0x41", got)
	}
	if b.reads != 1 {
		t.Errorf("read callback count = %d, want 1", b.reads)
	}

	// Readonly regs reject writes.
	tbl.Write8(0xFF01, 0xFF)
	if b.STATUS.Value != 0x01 {
		t.Errorf("STATUS modified by write: %#02x", b.STATUS.Value)
	}
}

func TestRegMasks(t *testing.T) {
	b := &testBank{}
	hwio.MustInitRegs(b)

	tbl := hwio.NewTable("test", 0xFF00)
	tbl.MapBank(0xFF00, b, 0)

	b.MASKED.Value = 0x05
	tbl.Write8(0xFF02, 0xFF)
	// Low nibble is write-protected, upper bits stored.
	if b.MASKED.Value != 0xF5 {
		t.Errorf("MASKED value = %#02x, want 0xF5", b.MASKED.Value)
	}
	// Set-mask bits read back as 1 regardless.
	b.MASKED.Value = 0x00
	if got := tbl.Read8(0xFF02, false); got != 0xE0 {
		t.Errorf("MASKED read = %#02x, want 0xE0", got)
	}
}

func TestBankNumbers(t *testing.T) {
	b := &testBank{}
	hwio.MustInitRegs(b)

	tbl := hwio.NewTable("test", 0xFF00)
	tbl.MapBank(0xFF00, b, 1)

	tbl.Write8(0xFF00, 0x99)
	if b.ALT.Value != 0x99 {
		t.Errorf("ALT value = %#02x, want 0x99", b.ALT.Value)
	}
	if len(b.writes) != 0 {
		t.Errorf("bank-0 CTRL written through bank-1 mapping")
	}
}

func TestDeviceRange(t *testing.T) {
	var mem [16]uint8
	dev := &hwio.Device{
		Name:    "scratch",
		Size:    16,
		ReadCb:  func(addr uint16) uint8 { return mem[addr-0xFF30] },
		WriteCb: func(addr uint16, val uint8) { mem[addr-0xFF30] = val },
	}

	tbl := hwio.NewTable("test", 0xFF00)
	tbl.MapDevice(0xFF30, dev)

	for i := uint16(0); i < 16; i++ {
		tbl.Write8(0xFF30+i, uint8(i)*3)
	}
	for i := uint16(0); i < 16; i++ {
		if got := tbl.Read8(0xFF30+i, false); got != uint8(i)*3 {
			t.Fatalf("device read at +%d = %#02x, want %#02x", i, got, uint8(i)*3)
		}
	}
}

func TestUnmapped(t *testing.T) {
	tbl := hwio.NewTable("test", 0xFF00)
	if got := tbl.Read8(0xFF40, false); got != 0xFF {
		t.Errorf("unmapped read = %#02x, want 0xFF", got)
	}
	// Out-of-page accesses are ignored.
	tbl.Write8(0x8000, 0x12)
	if got := tbl.Read8(0x8000, false); got != 0xFF {
		t.Errorf("out-of-page read = %#02x, want 0xFF", got)
	}
}
