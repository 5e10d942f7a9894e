// Package reflector implements the STCPacket wire format and the local Unix
// datagram socket plumbing the router uses to exchange frames with the
// reflector process.
//
// The sockets are grounded directly on internal/network.UDPSocket: the same
// non-blocking-via-SetReadDeadline read loop and Open/Read/Write/Close
// shape, retargeted from net.UDPConn/"udp4" to net.UnixConn/"unixgram"
// because the reflector protocol is local-machine-only.
package reflector

import (
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/dbehnke/xlx-transcoder/internal/frame"
)

// headerBytes is module(1) + is_last(1) + stream_id(2) + codec_in(1) +
// sequence(4) + timestamp(8), all fixed-width and in network byte order.
const headerBytes = 1 + 1 + 2 + 1 + 4 + 8

// egressBytes is the full multi-codec payload following the header on a
// completed outbound datagram: D-Star 9B, DMR 9B, P25 11B, M17 16B, USRP
// 160 little-endian int16 samples (320B).
const egressBytes = frame.DStarBytes + frame.DmrBytes + frame.P25Bytes + frame.M17Bytes + frame.PCMSamples*2

// Header is the fixed-width STCPacket prefix common to every datagram.
type Header struct {
	Module   byte
	IsLast   bool
	StreamID uint16
	CodecIn  frame.Codec
	Sequence uint32
	Origin   time.Time
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerBytes {
		return Header{}, fmt.Errorf("reflector: datagram is %d bytes, shorter than the %d-byte header", len(b), headerBytes)
	}
	var h Header
	h.Module = b[0]
	h.IsLast = b[1] != 0
	h.StreamID = binary.BigEndian.Uint16(b[2:4])
	h.CodecIn = frame.Codec(b[4])
	h.Sequence = binary.BigEndian.Uint32(b[5:9])
	h.Origin = time.Unix(0, int64(binary.BigEndian.Uint64(b[9:17])))
	return h, nil
}

func (h Header) encode(b []byte) {
	b[0] = h.Module
	if h.IsLast {
		b[1] = 1
	}
	binary.BigEndian.PutUint16(b[2:4], h.StreamID)
	b[4] = byte(h.CodecIn)
	binary.BigEndian.PutUint32(b[5:9], h.Sequence)
	binary.BigEndian.PutUint64(b[9:17], uint64(h.Origin.UnixNano()))
}

// DecodeIngress parses a REF2TC datagram: a header followed by exactly one
// codec payload, whose width is determined by CodecIn. The returned frame
// carries the targets the caller supplies (the configured set of codec
// completion flags).
func DecodeIngress(datagram []byte, targets frame.Target) (*frame.Frame, error) {
	h, err := decodeHeader(datagram)
	if err != nil {
		return nil, err
	}
	payload := datagram[headerBytes:]
	f, err := frame.New(h.Module, h.StreamID, h.Sequence, h.IsLast, h.CodecIn, payload, targets, h.Origin)
	if err != nil {
		return nil, fmt.Errorf("reflector: decoding ingress datagram: %w", err)
	}
	return f, nil
}

// EncodeEgress serializes a completed frame into a TC2REF<module> datagram:
// header followed by every codec's payload in fixed order, regardless of
// which codec originated the frame.
func EncodeEgress(f *frame.Frame) []byte {
	out := make([]byte, headerBytes+egressBytes)
	h := Header{
		Module:   f.Module,
		IsLast:   f.IsLast,
		StreamID: f.StreamID,
		CodecIn:  f.CodecIn,
		Sequence: f.Sequence,
		Origin:   f.Origin,
	}
	h.encode(out[:headerBytes])

	off := headerBytes
	copy(out[off:], f.DStar[:])
	off += frame.DStarBytes
	copy(out[off:], f.Dmr[:])
	off += frame.DmrBytes
	copy(out[off:], f.P25[:])
	off += frame.P25Bytes
	copy(out[off:], f.M17[:])
	off += frame.M17Bytes
	for i, s := range f.Usrp {
		binary.LittleEndian.PutUint16(out[off+i*2:], uint16(s))
	}
	return out
}

// IngressSocket wraps the REF2TC Unix datagram socket the router reads
// frames from. Non-blocking, matching internal/network.UDPSocket.Read: a
// timeout is reported as (0, nil), never as an error.
type IngressSocket struct {
	conn *net.UnixConn
	path string
}

// OpenIngress binds a Unix datagram socket at path, removing any stale
// socket file left behind by a previous, uncleanly terminated run.
func OpenIngress(path string) (*IngressSocket, error) {
	_ = os.Remove(path)
	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return nil, fmt.Errorf("reflector: resolving ingress address %s: %w", path, err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("reflector: binding ingress socket %s: %w", path, err)
	}
	log.Printf("[reflector] ingress socket bound at %s", path)
	return &IngressSocket{conn: conn, path: path}, nil
}

// Read blocks up to timeout for one datagram. Returns (0, nil) on timeout
// with no data available, the Unix-socket analogue of UDPSocket.Read's
// select()-timeout behavior.
func (s *IngressSocket) Read(buf []byte, timeout time.Duration) (int, error) {
	if s.conn == nil {
		return 0, fmt.Errorf("reflector: ingress socket not open")
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return 0, nil
		}
		log.Printf("[reflector] ingress read error: %v", err)
		return 0, err
	}
	return n, nil
}

// Close closes the socket and removes the backing file.
func (s *IngressSocket) Close() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	_ = os.Remove(s.path)
	log.Printf("[reflector] ingress socket closed")
}

// SendEgress opens a one-shot datagram writer to TC2REF<module> under dir
// and writes the encoded frame: no persistent egress connection is kept
// open between frames.
func SendEgress(dir string, module byte, payload []byte) error {
	path := fmt.Sprintf("%s/TC2REF%c", dir, module)
	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return fmt.Errorf("reflector: resolving egress address %s: %w", path, err)
	}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return fmt.Errorf("reflector: dialing egress socket %s: %w", path, err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		log.Printf("[reflector] egress write error on %s: %v", path, err)
		return err
	}
	return nil
}
