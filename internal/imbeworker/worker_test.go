package imbeworker

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/dbehnke/xlx-transcoder/internal/frame"
	"github.com/dbehnke/xlx-transcoder/internal/queue"
)

type fakeVocoder struct {
	encode func(pcm [160]int16) ([11]byte, error)
	decode func(imbe [11]byte) ([160]int16, error)
}

func (f *fakeVocoder) Encode(pcm [160]int16) ([11]byte, error) { return f.encode(pcm) }
func (f *fakeVocoder) Decode(imbe [11]byte) ([160]int16, error) { return f.decode(imbe) }

type recordingFanOut struct {
	dstar, dmr, codec2, usrp []*frame.Frame
	delivered                []*frame.Frame
}

func (r *recordingFanOut) PushDStar(f *frame.Frame)  { r.dstar = append(r.dstar, f) }
func (r *recordingFanOut) PushDmr(f *frame.Frame)    { r.dmr = append(r.dmr, f) }
func (r *recordingFanOut) PushCodec2(f *frame.Frame) { r.codec2 = append(r.codec2, f) }
func (r *recordingFanOut) PushUSRP(f *frame.Frame)   { r.usrp = append(r.usrp, f) }
func (r *recordingFanOut) Deliver(f *frame.Frame)    { r.delivered = append(r.delivered, f) }

func TestDecodeP25FansOutToEveryOtherWorker(t *testing.T) {
	v := &fakeVocoder{decode: func(imbe [11]byte) ([160]int16, error) {
		var pcm [160]int16
		pcm[0] = int16(imbe[0])
		return pcm, nil
	}}
	fanout := &recordingFanOut{}
	q := queue.New("imbe", 0)
	w := New(q, v, fanout, log.New(os.Stdout, "", 0))

	payload := make([]byte, frame.P25Bytes)
	payload[0] = 9
	f, err := frame.New('A', 1, 0, false, frame.P25, payload, frame.AllTargets(), time.Now())
	if err != nil {
		t.Fatalf("frame.New() error = %v", err)
	}
	w.process(f)

	if f.PCM[0] != 9 {
		t.Fatalf("PCM[0] = %d, want 9", f.PCM[0])
	}
	if len(fanout.dstar) != 1 || len(fanout.dmr) != 1 || len(fanout.codec2) != 1 || len(fanout.usrp) != 1 {
		t.Fatalf("fan-out did not reach all four targets: %+v", fanout)
	}
}

func TestEncodeSetsP25AndDelivers(t *testing.T) {
	v := &fakeVocoder{encode: func(pcm [160]int16) ([11]byte, error) {
		return [11]byte{byte(pcm[0])}, nil
	}}
	fanout := &recordingFanOut{}
	q := queue.New("imbe", 0)
	w := New(q, v, fanout, log.New(os.Stdout, "", 0))

	f, err := frame.New('A', 1, 0, false, frame.DStar, make([]byte, frame.DStarBytes), frame.TargetP25, time.Now())
	if err != nil {
		t.Fatalf("frame.New() error = %v", err)
	}
	f.SetAudio([frame.PCMSamples]int16{0: 5}, false)
	w.process(f)

	if !f.P25Set() {
		t.Fatalf("P25Set() = false after encode")
	}
	if f.P25[0] != 5 {
		t.Fatalf("P25[0] = %d, want 5", f.P25[0])
	}
	if len(fanout.delivered) != 1 {
		t.Fatalf("delivered count = %d, want 1", len(fanout.delivered))
	}
}
