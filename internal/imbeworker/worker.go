// Package imbeworker implements the single-threaded IMBE (P25 Phase-1)
// worker: encodes PCM to an 11-byte IMBE frame and decodes an 11-byte IMBE
// frame to PCM, fanning out either direction to the rest of the worker
// fabric.
package imbeworker

import (
	"log"

	"github.com/dbehnke/xlx-transcoder/internal/frame"
	"github.com/dbehnke/xlx-transcoder/internal/queue"
	"github.com/dbehnke/xlx-transcoder/internal/vocoder"
)

// FanOut is the narrow surface the worker uses to hand a frame to the rest
// of the fabric. Implemented by internal/router.
type FanOut interface {
	PushDStar(f *frame.Frame)
	PushDmr(f *frame.Frame)
	PushCodec2(f *frame.Frame)
	PushUSRP(f *frame.Frame)
	Deliver(f *frame.Frame)
}

// Worker is the single IMBE thread: one goroutine, one P25 vocoder.
type Worker struct {
	queue  *queue.Queue
	vocdr  vocoder.IMBEVocoder
	fanout FanOut
	logger *log.Logger
}

func New(q *queue.Queue, v vocoder.IMBEVocoder, fanout FanOut, logger *log.Logger) *Worker {
	return &Worker{queue: q, vocdr: v, fanout: fanout, logger: logger}
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

func (w *Worker) process(f *frame.Frame) {
	if f.CodecIn == frame.P25 {
		pcm, err := w.vocdr.Decode(f.P25)
		if err != nil {
			w.logger.Printf("[imbe] decode error on module %c: %v", f.Module, err)
			return
		}
		f.SetAudio(pcm, false)
		w.fanout.PushDStar(f)
		w.fanout.PushDmr(f)
		w.fanout.PushCodec2(f)
		w.fanout.PushUSRP(f)
		return
	}

	if f.P25Set() {
		return
	}
	p25, err := w.vocdr.Encode(f.PCM)
	if err != nil {
		w.logger.Printf("[imbe] encode error on module %c: %v", f.Module, err)
		return
	}
	f.SetP25(p25[:])
	if f.AllCodecsSet() {
		w.fanout.Deliver(f)
	}
}
