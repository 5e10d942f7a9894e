package reflector

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dbehnke/xlx-transcoder/internal/frame"
)

func TestDecodeIngressDStar(t *testing.T) {
	origin := time.Unix(1700000000, 0)
	datagram := make([]byte, headerBytes+frame.DStarBytes)
	h := Header{Module: 'A', IsLast: false, StreamID: 0x1234, CodecIn: frame.DStar, Sequence: 7, Origin: origin}
	h.encode(datagram[:headerBytes])
	copy(datagram[headerBytes:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})

	f, err := DecodeIngress(datagram, frame.AllTargets())
	if err != nil {
		t.Fatalf("DecodeIngress() error = %v", err)
	}
	if f.Module != 'A' || f.StreamID != 0x1234 || f.Sequence != 7 {
		t.Fatalf("header fields = %+v, want module A stream 0x1234 seq 7", f)
	}
	if !f.DStarSet() {
		t.Fatalf("DStarSet() = false after ingress decode")
	}
	if f.DStar != [frame.DStarBytes]byte{1, 2, 3, 4, 5, 6, 7, 8, 9} {
		t.Fatalf("DStar payload = %v, want echoed input", f.DStar)
	}
}

func TestEncodeEgressLayout(t *testing.T) {
	origin := time.Unix(1700000000, 0)
	f, err := frame.New('B', 1, 0, true, frame.DStar, make([]byte, frame.DStarBytes), frame.AllTargets(), origin)
	if err != nil {
		t.Fatalf("frame.New() error = %v", err)
	}
	f.SetDmr(make([]byte, frame.DmrBytes))
	f.SetP25(make([]byte, frame.P25Bytes))
	f.SetM17(make([]byte, frame.M17Bytes))

	out := EncodeEgress(f)
	if len(out) != headerBytes+egressBytes {
		t.Fatalf("EncodeEgress() length = %d, want %d", len(out), headerBytes+egressBytes)
	}

	h, err := decodeHeader(out)
	if err != nil {
		t.Fatalf("decodeHeader() error = %v", err)
	}
	if h.Module != 'B' || !h.IsLast || h.StreamID != 1 {
		t.Fatalf("decoded header = %+v, want module B is_last seq/stream 1", h)
	}
}

func TestIngressSocketRoundTrip(t *testing.T) {
	dir := t.TempDir()
	refPath := filepath.Join(dir, "REF2TC")

	sock, err := OpenIngress(refPath)
	if err != nil {
		t.Fatalf("OpenIngress() error = %v", err)
	}
	defer sock.Close()

	buf := make([]byte, 512)
	n, err := sock.Read(buf, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("Read() n = %d before any datagram sent, want 0 (timeout)", n)
	}
}
