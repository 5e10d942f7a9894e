// Package usrpworker implements the single-threaded USRP gain worker:
// integer gain-scales PCM to the linear-PCM USRP bridge format and back,
// with no clipping (the 16-bit result wraps modulo).
package usrpworker

import (
	"log"
	"math"

	"github.com/dbehnke/xlx-transcoder/internal/frame"
	"github.com/dbehnke/xlx-transcoder/internal/queue"
)

// FanOut is the narrow surface the worker uses to hand a frame to the rest
// of the fabric. Implemented by internal/router.
type FanOut interface {
	PushDStar(f *frame.Frame)
	PushDmr(f *frame.Frame)
	PushCodec2(f *frame.Frame)
	PushIMBE(f *frame.Frame)
	Deliver(f *frame.Frame)
}

// Worker is the single USRP thread: one goroutine, one gain bridge.
type Worker struct {
	queue  *queue.Queue
	txNum  int32 // PCM -> USRP
	rxNum  int32 // USRP -> PCM
	fanout FanOut
	logger *log.Logger
}

// GainNumerator computes round(256 * 10^(gainDB/20)), the fixed-point
// scaling numerator applied to each PCM sample. gainDB 0 resolves to 256,
// a pure pass-through.
func GainNumerator(gainDB int32) int32 {
	return int32(math.Round(256 * math.Pow(10, float64(gainDB)/20)))
}

// New constructs the worker from configured tx/rx gains in dB.
func New(q *queue.Queue, txGainDB, rxGainDB int32, fanout FanOut, logger *log.Logger) *Worker {
	return &Worker{
		queue:  q,
		txNum:  GainNumerator(txGainDB),
		rxNum:  GainNumerator(rxGainDB),
		fanout: fanout,
		logger: logger,
	}
}

// Run drains the queue until shutdown.
func (w *Worker) Run() {
	for {
		f, ok := w.queue.Pop()
		if !ok {
			return
		}
		w.process(f)
	}
}

func scale(in int16, numerator int32) int16 {
	return int16((int32(in) * numerator) >> 8)
}

func (w *Worker) process(f *frame.Frame) {
	if f.CodecIn == frame.Usrp {
		var pcm [frame.PCMSamples]int16
		for i, s := range f.Usrp {
			pcm[i] = scale(s, w.rxNum)
		}
		f.SetAudio(pcm, false)
		w.fanout.PushDStar(f)
		w.fanout.PushDmr(f)
		w.fanout.PushCodec2(f)
		w.fanout.PushIMBE(f)
		return
	}

	var usrp [frame.PCMSamples]int16
	for i, s := range f.PCM {
		usrp[i] = scale(s, w.txNum)
	}
	f.SetUSRP(usrp)
	if f.AllCodecsSet() {
		w.fanout.Deliver(f)
	}
}
