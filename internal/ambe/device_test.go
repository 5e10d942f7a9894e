package ambe

import (
	"bytes"
	"log"
	"os"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory vocoder.USBTransport. Writes are recorded;
// reads are served from a pre-loaded byte queue, simulating canned device
// responses for Open()'s initialization handshake.
type fakeTransport struct {
	mu      sync.Mutex
	writes  [][]byte
	toRead  []byte
	opened  bool
	closed  bool
}

func (f *fakeTransport) Open(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = true
	return nil
}

func (f *fakeTransport) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), b...)
	f.writes = append(f.writes, cp)
	return len(b), nil
}

func (f *fakeTransport) Read(buf []byte, timeout time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.toRead) == 0 {
		return 0, nil
	}
	n := copy(buf, f.toRead)
	f.toRead = f.toRead[n:]
	return n, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) queue(p packet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toRead = append(f.toRead, p.encode()...)
}

func TestNewRejectsBadChannelCount(t *testing.T) {
	_, err := New("test", DStar, 2, &fakeTransport{}, nil, 0, 0, nil, log.New(os.Stdout, "", 0))
	if err == nil {
		t.Fatalf("New() error = nil, want error for channels = 2")
	}
}

func TestNewRejectsTooManyModules(t *testing.T) {
	_, err := New("test", DStar, 1, &fakeTransport{}, []byte{'A', 'B'}, 0, 0, nil, log.New(os.Stdout, "", 0))
	if err == nil {
		t.Fatalf("New() error = nil, want error when modules exceed channels")
	}
}

func TestOpenRunsInitializationHandshake(t *testing.T) {
	tr := &fakeTransport{}
	tr.queue(packet{packetType: pktControl, fieldID: pktReady})
	tr.queue(packet{packetType: pktControl, fieldID: 0x00, payload: []byte{0x00}})
	tr.queue(packet{packetType: pktControl, fieldID: pktProdID, payload: []byte("AMBE3003")})
	tr.queue(packet{packetType: pktControl, fieldID: pktVerString, payload: []byte("1.0")})
	tr.queue(packet{packetType: pktControl, fieldID: channelField(0), payload: make([]byte, 15)})

	d, err := New("dstar0", DStar, 1, tr, []byte{'A'}, 0, 0, nil, log.New(os.Stdout, "", 0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !tr.opened {
		t.Fatalf("transport.Open() was not called")
	}
	if len(tr.writes) != 5 {
		t.Fatalf("transport recorded %d writes, want 5 (reset, parity, prodid, verstring, ratep)", len(tr.writes))
	}
}

func TestOpenFailsOnBadResetAck(t *testing.T) {
	tr := &fakeTransport{}
	tr.queue(packet{packetType: pktControl, fieldID: 0x00}) // not pktReady

	d, err := New("dstar0", DStar, 1, tr, []byte{'A'}, 0, 0, nil, log.New(os.Stdout, "", 0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Open(); err == nil {
		t.Fatalf("Open() error = nil, want error for a non-READY reset ack")
	}
}

func TestFakeTransportServesQueuedPacketBytes(t *testing.T) {
	tr := &fakeTransport{}
	tr.queue(packet{packetType: pktControl, fieldID: pktReady})
	buf := make([]byte, 64)
	n, err := tr.Read(buf, time.Millisecond)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(buf[:n], packet{packetType: pktControl, fieldID: pktReady}.encode()) {
		t.Fatalf("Read() returned unexpected bytes")
	}
}
