package emu

import (
	"io"

	"github.com/go-faster/jx"

	"dotmat/hw"
)

// DumpState serializes the core's observable state as JSON. The gathering
// runs on the worker through RunFunction, so every value belongs to the
// same cycle-aligned snapshot.
func DumpState(t *Thread, w io.Writer) error {
	var enc jx.Encoder
	t.RunFunction(func(t *Thread) {
		gb, ok := t.Core.(*hw.GB)
		if !ok {
			enc.Null()
			return
		}
		enc.Obj(func(e *jx.Encoder) {
			e.Field("state", func(e *jx.Encoder) { e.Str(t.loadState().String()) })
			e.Field("style", func(e *jx.Encoder) { e.Str(gb.Style().String()) })
			e.Field("cycles", func(e *jx.Encoder) { e.Int32(gb.Cycles()) })
			e.Field("next_event", func(e *jx.Encoder) { e.Int32(gb.NextEvent()) })
			e.Field("timer", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("div", func(e *jx.Encoder) { e.UInt8(gb.Timer.DIV.Value) })
					e.Field("tima", func(e *jx.Encoder) { e.UInt8(gb.Timer.TIMA.Value) })
					e.Field("tma", func(e *jx.Encoder) { e.UInt8(gb.Timer.TMA.Value) })
					e.Field("tac", func(e *jx.Encoder) { e.UInt8(gb.Timer.TAC.Value) })
				})
			})
			e.Field("apu", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("enabled", func(e *jx.Encoder) { e.Bool(gb.APU.Enabled()) })
					e.Field("nr52", func(e *jx.Encoder) { e.UInt8(gb.APU.NR52.Value) })
					e.Field("frame", func(e *jx.Encoder) { e.Int32(gb.APU.Frame()) })
					e.Field("master_volume", func(e *jx.Encoder) { e.Int32(gb.APU.MasterVolume()) })
					e.Field("playing", func(e *jx.Encoder) {
						e.Arr(func(e *jx.Encoder) {
							for ch := range 4 {
								e.Bool(gb.APU.Playing(ch))
							}
						})
					})
				})
			})
			e.Field("if", func(e *jx.Encoder) { e.UInt8(gb.IF.Value) })
			e.Field("ie", func(e *jx.Encoder) { e.UInt8(gb.IE.Value) })
		})
	})
	_, err := w.Write(enc.Bytes())
	return err
}
