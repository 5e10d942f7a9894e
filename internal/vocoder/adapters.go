package vocoder

import (
	"fmt"
	"os"
	"time"
)

// FileTransport implements USBTransport over a raw device node (e.g.
// /dev/ttyUSB0). It performs no FTDI-specific setup of its own: baud rate,
// latency timer, flow control, and DTR polarity are the FTDI driver's
// job, an out-of-scope external collaborator — this transport assumes the
// node has already been provisioned (by udev rules or a prior stty
// invocation) and only moves bytes, the same Open/Read/Write/Close shape
// as internal/network.UDPSocket generalized from a socket to a character
// device.
type FileTransport struct {
	file *os.File
}

// NewFileTransport constructs an unopened FileTransport; Open binds it to
// a device path.
func NewFileTransport() *FileTransport {
	return &FileTransport{}
}

func (t *FileTransport) Open(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("vocoder: opening %s: %w", path, err)
	}
	t.file = f
	return nil
}

func (t *FileTransport) Write(b []byte) (int, error) {
	if t.file == nil {
		return 0, fmt.Errorf("vocoder: transport not open")
	}
	return t.file.Write(b)
}

// Read blocks up to timeout for at least one byte, returning (0, nil) on a
// timeout with no data available — the same non-blocking-read idiom
// internal/reflector.IngressSocket.Read uses for the reflector socket.
func (t *FileTransport) Read(buf []byte, timeout time.Duration) (int, error) {
	if t.file == nil {
		return 0, fmt.Errorf("vocoder: transport not open")
	}
	if err := t.file.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		// Not every device node supports deadlines (plain regular files,
		// for instance); fall back to a plain blocking read rather than
		// failing the whole driver over a capability the node lacks.
		return t.file.Read(buf)
	}
	n, err := t.file.Read(buf)
	if err != nil {
		if os.IsTimeout(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (t *FileTransport) Close() error {
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}

// UnimplementedCodec2 and UnimplementedIMBE satisfy Codec2Codec and
// IMBEVocoder without linking any real vocoder math: the Codec2 and IMBE
// libraries are out-of-scope external collaborators. main wires these in
// only as a placeholder so the binary links and starts before an operator
// supplies the real library bindings; every call returns an error rather
// than silently fabricating codec output.
type UnimplementedCodec2 struct{}

func (UnimplementedCodec2) Encode3200(pcm [160]int16) ([8]byte, error) {
	return [8]byte{}, fmt.Errorf("vocoder: no Codec2 library linked (Encode3200)")
}

func (UnimplementedCodec2) Decode3200(m17 [8]byte) ([160]int16, error) {
	return [160]int16{}, fmt.Errorf("vocoder: no Codec2 library linked (Decode3200)")
}

func (UnimplementedCodec2) Decode1600(m17 [8]byte) ([320]int16, error) {
	return [320]int16{}, fmt.Errorf("vocoder: no Codec2 library linked (Decode1600)")
}

type UnimplementedIMBE struct{}

func (UnimplementedIMBE) Encode(pcm [160]int16) ([11]byte, error) {
	return [11]byte{}, fmt.Errorf("vocoder: no IMBE library linked (Encode)")
}

func (UnimplementedIMBE) Decode(imbe [11]byte) ([160]int16, error) {
	return [160]int16{}, fmt.Errorf("vocoder: no IMBE library linked (Decode)")
}
