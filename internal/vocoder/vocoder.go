// Package vocoder defines the narrow adapter interfaces the worker fabric
// uses to reach external collaborators it does not itself implement: the
// Codec2 library, an IMBE software vocoder, and the FTDI USB transport
// under the DVSI device protocol.
//
// Each interface is small on purpose: a real library/driver on one side, a
// test fake on the other, with the worker/driver code never caring which
// it holds.
package vocoder

import "time"

// Codec2Codec converts between 160-sample 8kHz PCM frames and one 8-byte
// mode-3200 Codec2 half-frame (two halves make up one 16-byte M17 wire
// frame). Encode is 3200-only; mode 1600 is decode-only on this interface
// because mode 1600 never appears on egress.
type Codec2Codec interface {
	// Encode3200 converts one 20ms PCM frame into an 8-byte mode-3200
	// Codec2 half-frame.
	Encode3200(pcm [160]int16) ([8]byte, error)
	// Decode3200 converts an 8-byte mode-3200 Codec2 half-frame into one
	// 20ms PCM frame.
	Decode3200(m17 [8]byte) ([160]int16, error)
	// Decode1600 converts an 8-byte M17 half-frame into two 20ms PCM
	// frames (40ms of audio: mode 1600 shares one payload across a pair
	// of frames).
	Decode1600(m17 [8]byte) ([320]int16, error)
}

// IMBEVocoder converts between 160-sample PCM frames and P25 Phase-1's
// 11-byte (88-bit) IMBE frame.
type IMBEVocoder interface {
	Encode(pcm [160]int16) ([11]byte, error)
	Decode(imbe [11]byte) ([160]int16, error)
}

// USBTransport is the byte-stream side of a DVSI AMBE device: open a path,
// exchange DVSI packets, close. internal/ambe drives the DVSI protocol
// framing on top of this; the transport itself knows nothing about
// Control/Channel/Speech packet types.
type USBTransport interface {
	// Open establishes the connection to path (e.g. a /dev/ttyUSBn node).
	Open(path string) error
	// Write sends raw bytes to the device.
	Write(b []byte) (int, error)
	// Read blocks up to timeout for at least one byte, returning (0, nil)
	// on a timeout with no data available (the non-blocking-read idiom
	// internal/network.UDPSocket.Read uses for UDP, generalized to USB).
	Read(buf []byte, timeout time.Duration) (int, error)
	// Close releases the underlying device handle.
	Close() error
}
