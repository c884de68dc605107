package hwio

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Registers are declared as struct fields carrying a "hwio" tag:
//
//	DIV hwio.Reg8 `hwio:"offset=0x04,rcb,wcb"`
//
// Supported options:
//
//	offset=0xNN     Byte-offset within the register bank at which this
//	                register is mapped. No default: without it, the register
//	                is not part of the bank and is skipped by MapBank.
//	bank=NN         Ordinal bank number (defaults to zero), so one structure
//	                can expose several banks.
//	rcb / wcb / pcb Wire the read / write / peek callback to the bank method
//	                named Read<FIELD> / Write<FIELD> / Peek<FIELD>.
//	readonly        Reject CPU writes.
//	writeonly       Reject CPU reads.
//	romask=0xNN     Bits the CPU cannot change through writes.
//	setmask=0xNN    Bits that read back as 1 (unimplemented audio bits).
type bankReg struct {
	ptr    *Reg8
	offset uint16
}

func parseTag(tag string) map[string]string {
	opts := make(map[string]string)
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if key, val, found := strings.Cut(part, "="); found {
			opts[key] = val
		} else {
			opts[part] = ""
		}
	}
	return opts
}

func parseMask(opts map[string]string, key string) (uint8, error) {
	s, ok := opts[key]
	if !ok {
		return 0, nil
	}
	mask, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("hwio: bad %s value %q: %v", key, s, err)
	}
	return uint8(mask), nil
}

func bankFields(bank any) (reflect.Value, reflect.Type, error) {
	v := reflect.ValueOf(bank)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, nil, fmt.Errorf("hwio: bank must be a pointer to struct, got %T", bank)
	}
	return v.Elem(), v.Elem().Type(), nil
}

func bankGetRegs(bank any, bankNum int) ([]bankReg, error) {
	v, t, err := bankFields(bank)
	if err != nil {
		return nil, err
	}

	var regs []bankReg
	for i := range t.NumField() {
		f := t.Field(i)
		tag, ok := f.Tag.Lookup("hwio")
		if !ok {
			continue
		}
		opts := parseTag(tag)
		offstr, ok := opts["offset"]
		if !ok {
			continue
		}
		bnum := 0
		if s, ok := opts["bank"]; ok {
			bnum, err = strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("hwio: bad bank value %q on %s", s, f.Name)
			}
		}
		if bnum != bankNum {
			continue
		}
		off, err := strconv.ParseUint(offstr, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("hwio: bad offset value %q on %s", offstr, f.Name)
		}
		if f.Type != reflect.TypeOf(Reg8{}) {
			return nil, fmt.Errorf("hwio: field %s has hwio tag but type %s", f.Name, f.Type)
		}
		regs = append(regs, bankReg{
			ptr:    v.Field(i).Addr().Interface().(*Reg8),
			offset: uint16(off),
		})
	}
	return regs, nil
}

// InitRegs fills in the Name, Flags, masks and callbacks of every tagged
// Reg8 field of bank, resolving callback methods by name on bank itself.
func InitRegs(bank any) error {
	v, t, err := bankFields(bank)
	if err != nil {
		return err
	}
	bv := reflect.ValueOf(bank)

	for i := range t.NumField() {
		f := t.Field(i)
		tag, ok := f.Tag.Lookup("hwio")
		if !ok || f.Type != reflect.TypeOf(Reg8{}) {
			continue
		}
		opts := parseTag(tag)
		reg := v.Field(i).Addr().Interface().(*Reg8)
		reg.Name = f.Name

		if _, ok := opts["readonly"]; ok {
			reg.Flags |= ReadOnlyFlag
		}
		if _, ok := opts["writeonly"]; ok {
			reg.Flags |= WriteOnlyFlag
		}
		if reg.RoMask, err = parseMask(opts, "romask"); err != nil {
			return err
		}
		if reg.SetMask, err = parseMask(opts, "setmask"); err != nil {
			return err
		}

		if _, ok := opts["rcb"]; ok {
			m := bv.MethodByName("Read" + f.Name)
			if !m.IsValid() {
				return fmt.Errorf("hwio: missing method Read%s", f.Name)
			}
			reg.ReadCb = m.Interface().(func(uint8) uint8)
		}
		if _, ok := opts["pcb"]; ok {
			m := bv.MethodByName("Peek" + f.Name)
			if !m.IsValid() {
				return fmt.Errorf("hwio: missing method Peek%s", f.Name)
			}
			reg.PeekCb = m.Interface().(func(uint8) uint8)
		}
		if _, ok := opts["wcb"]; ok {
			m := bv.MethodByName("Write" + f.Name)
			if !m.IsValid() {
				return fmt.Errorf("hwio: missing method Write%s", f.Name)
			}
			reg.WriteCb = m.Interface().(func(uint8, uint8))
		}
	}
	return nil
}

func MustInitRegs(bank any) {
	if err := InitRegs(bank); err != nil {
		panic(err)
	}
}
