// Package codec2worker implements the single-threaded Codec2 (M17) worker:
// M17-to-PCM decode, PCM-to-M17 encode, and the mode-1600 half-frame stash
// (audio_store).
//
// No module in ysf2dmr does per-codec worker dispatch (it converts
// DMR<->YSF inline), so this follows main_goroutine.go's
// goroutine-per-duty-cycle shape generalized to a dedicated worker type.
package codec2worker

import (
	"log"

	"github.com/dbehnke/xlx-transcoder/internal/frame"
	"github.com/dbehnke/xlx-transcoder/internal/queue"
	"github.com/dbehnke/xlx-transcoder/internal/vocoder"
)

// m17Silence is the mode-3200 silence sentinel.
var m17Silence = [8]byte{0x00, 0x01, 0x43, 0x09, 0xe4, 0x9c, 0x08, 0x21}

// FanOut is the narrow surface the worker uses to hand a frame on to the
// rest of the fabric once it has produced PCM or M17 bytes. Implemented by
// internal/router.
type FanOut interface {
	PushDStar(f *frame.Frame)
	PushDmr(f *frame.Frame)
	PushIMBE(f *frame.Frame)
	PushUSRP(f *frame.Frame)
	Deliver(f *frame.Frame)
}

// Worker is the single Codec2 thread. It is not safe to run more than one
// per process: the audio_store/data_store stash is keyed by module and
// assumes a single writer.
type Worker struct {
	queue  *queue.Queue
	codec  vocoder.Codec2Codec
	fanout FanOut
	logger *log.Logger

	audioStore map[byte][frame.PCMSamples]int16
	dataStore  map[byte][8]byte
}

// New constructs the worker. codec is the external Codec2 library adapter;
// q is the codec2 queue other workers enqueue onto.
func New(q *queue.Queue, codec vocoder.Codec2Codec, fanout FanOut, logger *log.Logger) *Worker {
	return &Worker{
		queue:      q,
		codec:      codec,
		fanout:     fanout,
		logger:     logger,
		audioStore: make(map[byte][frame.PCMSamples]int16),
		dataStore:  make(map[byte][8]byte),
	}
}

// Run drains the queue until shutdown. Intended to run in its own
// goroutine; returns when the queue is shut down.
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
	switch f.CodecIn {
	case frame.C2_3200, frame.C2_1600:
		w.decode(f)
	default:
		w.encode(f)
	}
}

// decode implements Codec2toAudio: M17 -> PCM, fanning the result out to
// both AMBE devices, IMBE, and USRP. For a mode-1600 ingress frame it also
// performs the complementary encode in the same pass (see DESIGN.md's Open
// Question decision on C2_1600/C2_3200 M17-field handling), since mode
// 1600 never appears on egress and the worker already holds the decoded
// PCM needed to produce the mode-3200 egress payload.
func (w *Worker) decode(f *frame.Frame) {
	even := f.Sequence%2 == 0

	switch f.CodecIn {
	case frame.C2_3200:
		var half [8]byte
		if even {
			copy(half[:], f.M17[0:8])
		} else {
			copy(half[:], f.M17[8:16])
		}
		pcm, err := w.codec.Decode3200(half)
		if err != nil {
			w.logger.Printf("[codec2] 3200 decode error on module %c: %v", f.Module, err)
			return
		}
		f.SetAudio(pcm, false)

	case frame.C2_1600:
		if even {
			pcm320, err := w.codec.Decode1600(half1600(f.M17))
			if err != nil {
				w.logger.Printf("[codec2] 1600 decode error on module %c: %v", f.Module, err)
				return
			}
			var first, second [frame.PCMSamples]int16
			copy(first[:], pcm320[:frame.PCMSamples])
			copy(second[:], pcm320[frame.PCMSamples:])
			f.SetAudio(first, false)
			w.audioStore[f.Module] = second
		} else {
			stashed, ok := w.audioStore[f.Module]
			if !ok {
				w.logger.Printf("[codec2] 1600 odd-sequence frame on module %c with no stashed audio, dropping", f.Module)
				return
			}
			delete(w.audioStore, f.Module)
			f.SetAudio(stashed, false)
		}

		// Mode 1600 never appears on egress: encode the PCM we just
		// produced at mode 3200 to populate the real M17 field, in the
		// same pass rather than a second queue round-trip.
		w.encodeM17Half(f)
	}

	w.fanout.PushDStar(f)
	w.fanout.PushDmr(f)
	w.fanout.PushIMBE(f)
	w.fanout.PushUSRP(f)
}

// encode implements AudiotoCodec2: PCM -> M17. Every ingress codec other
// than C2_3200/C2_1600 reaches this path with PCM already set by an
// upstream worker.
func (w *Worker) encode(f *frame.Frame) {
	if f.M17Set() {
		return
	}
	w.encodeM17Half(f)
	if f.AllCodecsSet() {
		w.fanout.Deliver(f)
	}
}

// encodeM17Half encodes the current PCM into one 8-byte M17 half and
// assembles the full 16-byte frame using data_store to pair even/odd
// halves, initializing the untouched half to the silence sentinel so an
// odd-terminated stream emits a clean tail.
func (w *Worker) encodeM17Half(f *frame.Frame) {
	half, err := w.codec.Encode3200(f.PCM)
	if err != nil {
		w.logger.Printf("[codec2] 3200 encode error on module %c: %v", f.Module, err)
		return
	}

	var m17 [16]byte
	copy(m17[8:16], m17Silence[:])

	if f.Sequence%2 == 0 {
		copy(m17[0:8], half[:])
		w.dataStore[f.Module] = half
	} else {
		if stashed, ok := w.dataStore[f.Module]; ok {
			copy(m17[0:8], stashed[:])
			delete(w.dataStore, f.Module)
		} else {
			copy(m17[0:8], m17Silence[:])
		}
		copy(m17[8:16], half[:])
	}

	f.SetM17(m17[:])
}

func half1600(m17 [frame.M17Bytes]byte) [8]byte {
	var out [8]byte
	copy(out[:], m17[:8])
	return out
}
