package router

import (
	"github.com/dbehnke/xlx-transcoder/internal/ambe"
	"github.com/dbehnke/xlx-transcoder/internal/frame"
)

// PushDStar, PushDmr, PushCodec2, PushIMBE, and PushUSRP implement the
// codec2worker.FanOut, imbeworker.FanOut, and usrpworker.FanOut interfaces
// structurally (no import of those packages is needed here).

func (r *Router) PushDStar(f *frame.Frame) {
	if r.DStarDevice != nil && !f.DStarSet() {
		r.DStarDevice.Enqueue(f)
	}
}

func (r *Router) PushDmr(f *frame.Frame) {
	if r.DmrDevice != nil && !f.DmrSet() {
		r.DmrDevice.Enqueue(f)
	}
}

func (r *Router) PushCodec2(f *frame.Frame) {
	if !f.M17Set() {
		r.Codec2.Push(f)
	}
}

func (r *Router) PushIMBE(f *frame.Frame) {
	if !f.P25Set() {
		r.IMBE.Push(f)
	}
}

func (r *Router) PushUSRP(f *frame.Frame) {
	r.USRP.Push(f)
}

// DeviceDecoded implements ambe.Router: an AMBE device just turned its own
// ingress payload into PCM. Fan out to Codec2, IMBE, USRP, and the other
// AMBE device — never back to the device that produced it.
func (r *Router) DeviceDecoded(kind ambe.Kind, f *frame.Frame) {
	r.PushCodec2(f)
	r.PushIMBE(f)
	r.PushUSRP(f)
	if kind == ambe.DStar {
		r.PushDmr(f)
	} else {
		r.PushDStar(f)
	}
}

// DeviceEncoded implements ambe.Router: an AMBE device just produced its
// own codec's payload from PCM already on the frame. Nothing further to
// enqueue; check for delivery.
func (r *Router) DeviceEncoded(kind ambe.Kind, f *frame.Frame) {
	r.Deliver(f)
}
