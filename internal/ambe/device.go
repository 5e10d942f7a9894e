package ambe

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbehnke/xlx-transcoder/internal/frame"
	"github.com/dbehnke/xlx-transcoder/internal/queue"
	"github.com/dbehnke/xlx-transcoder/internal/vocoder"
)

// feederBackoff is the pacing delay the feeder sleeps while buffer_depth
// is saturated.
const feederBackoff = 5 * time.Millisecond

// maxInFlight bounds the number of outstanding device requests: the feeder's
// wait loop keeps buffer_depth at or below this in steady state.
const maxInFlight = 2

// Router is the narrow callback surface the device's reader thread uses to
// hand a frame back to the controller once the device has produced either a
// decoded PCM frame or an encoded AMBE payload. Implemented by
// internal/router, not imported here, so the dependency runs one way.
type Router interface {
	// DeviceDecoded is called when codec_in matched this device's kind and
	// the device has just produced PCM from the ingress AMBE payload.
	DeviceDecoded(kind Kind, f *frame.Frame)
	// DeviceEncoded is called when the device has just produced this
	// kind's AMBE payload from PCM already present on the frame.
	DeviceEncoded(kind Kind, f *frame.Frame)
}

// Device drives one DVSI USB vocoder. A 3000-class device has a single
// vocoder channel; a 3003-class device has three. Both are this same type,
// parameterized by Channels, rather than a base/subclass pair.
type Device struct {
	Name     string
	Kind     Kind
	Channels int

	transport vocoder.USBTransport
	input     *queue.Queue
	router    Router
	logger    *log.Logger

	moduleChannel map[byte]int

	inGain, outGain int32

	prodID, verString string

	waitingMu sync.Mutex
	waiting   [3][]*frame.Frame

	bufferDepth atomic.Int32

	rb   *ringBuffer
	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs a device driver. modules lists the letters assigned to
// this device's channels in order (modules[k] feeds channel k); its length
// must not exceed channels.
func New(name string, kind Kind, channels int, transport vocoder.USBTransport, modules []byte, inGain, outGain int32, router Router, logger *log.Logger) (*Device, error) {
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("ambe: %s channels = %d, want 1 or 3", name, channels)
	}
	if len(modules) > channels {
		return nil, fmt.Errorf("ambe: %s configured with %d modules but only %d channels", name, len(modules), channels)
	}
	d := &Device{
		Name:          name,
		Kind:          kind,
		Channels:      channels,
		transport:     transport,
		input:         queue.New(name+"-input", queue.Overflow),
		router:        router,
		logger:        logger,
		moduleChannel: make(map[byte]int, len(modules)),
		inGain:        inGain,
		outGain:       outGain,
		rb:            newRingBuffer(4096, name+"-resync"),
		done:          make(chan struct{}),
	}
	for i, m := range modules {
		d.moduleChannel[m] = i
	}
	return d, nil
}

// Enqueue pushes a frame onto the device's feeder input. Called by other
// workers' fan-out to submit a frame for this device's encode or decode.
func (d *Device) Enqueue(f *frame.Frame) bool {
	return d.input.Push(f)
}

// SetRouter rebinds the device's callback target. main wiring needs this to
// break the construction-order cycle between Device and router.Router: a
// Router is constructed from its devices, but a Device's reader thread
// calls back into a Router — so the device is built first with a nil
// Router and bound after the Router exists, before Start is called.
func (d *Device) SetRouter(r Router) {
	d.router = r
}

// QueueDepth reports the feeder input's current depth, used by the
// periodic stats line in cmd/transcoder and by tests.
func (d *Device) QueueDepth() int {
	return d.input.Len()
}

// Overflowed reports whether the feeder input queue has tripped its
// safety-cap backstop.
func (d *Device) Overflowed() bool {
	return d.input.Overflowed()
}

// ProdID and VerString report the PRODID/VERSTRING strings the device
// returned during Open's initialization handshake, empty until Open
// succeeds. Used by internal/diagnostics' per-device init audit.
func (d *Device) ProdID() string    { return d.prodID }
func (d *Device) VerString() string { return d.verString }

// Open runs the DVSI initialization sequence: soft reset, disable parity,
// query PRODID/VERSTRING, then a RATEP/INIT configuration packet per
// channel. A missing response at any step is fatal, as is a reset
// acknowledgement other than READY or a RATEP/INIT acknowledgement shorter
// than 15 bytes. The parity, PRODID and VERSTRING responses are not
// checked, and the RATEP/INIT acknowledgement's contents are not compared
// against any template.
func (d *Device) Open() error {
	if err := d.transport.Open(d.Name); err != nil {
		return fmt.Errorf("ambe: opening %s: %w", d.Name, err)
	}

	if err := d.writePacket(controlPacket(pktReset, nil)); err != nil {
		return fmt.Errorf("ambe: %s reset request: %w", d.Name, err)
	}
	resp, err := d.readPacket(time.Second)
	if err != nil {
		return fmt.Errorf("ambe: %s awaiting READY: %w", d.Name, err)
	}
	if resp.fieldID != pktReady {
		return fmt.Errorf("ambe: %s reset ack = %#x, want READY (%#x)", d.Name, resp.fieldID, pktReady)
	}

	if err := d.writePacket(controlPacket(pktParityMode, []byte{0x00})); err != nil {
		return fmt.Errorf("ambe: %s parity mode request: %w", d.Name, err)
	}
	if _, err := d.readPacket(time.Second); err != nil {
		return fmt.Errorf("ambe: %s awaiting parity ack: %w", d.Name, err)
	}

	if err := d.writePacket(controlPacket(pktProdID, nil)); err != nil {
		return fmt.Errorf("ambe: %s PRODID request: %w", d.Name, err)
	}
	prodID, err := d.readPacket(time.Second)
	if err != nil {
		return fmt.Errorf("ambe: %s awaiting PRODID: %w", d.Name, err)
	}
	d.prodID = string(prodID.payload)
	d.logger.Printf("[ambe] %s PRODID = %q", d.Name, d.prodID)

	if err := d.writePacket(controlPacket(pktVerString, nil)); err != nil {
		return fmt.Errorf("ambe: %s VERSTRING request: %w", d.Name, err)
	}
	verString, err := d.readPacket(time.Second)
	if err != nil {
		return fmt.Errorf("ambe: %s awaiting VERSTRING: %w", d.Name, err)
	}
	d.verString = string(verString.payload)
	d.logger.Printf("[ambe] %s VERSTRING = %q", d.Name, d.verString)

	for k := 0; k < d.Channels; k++ {
		pkt := ratePPacket(d.Kind, d.inGain, d.outGain)
		pkt.fieldID = channelField(k)
		if err := d.writePacket(pkt); err != nil {
			return fmt.Errorf("ambe: %s channel %d RATEP/INIT request: %w", d.Name, k, err)
		}
		ack, err := d.readPacket(time.Second)
		if err != nil {
			return fmt.Errorf("ambe: %s channel %d awaiting RATEP/INIT ack: %w", d.Name, k, err)
		}
		if len(ack.payload) < 15 {
			return fmt.Errorf("ambe: %s channel %d RATEP/INIT ack is %d bytes, want >=15", d.Name, k, len(ack.payload))
		}
	}

	d.logger.Printf("[ambe] %s initialized: kind=%s channels=%d", d.Name, d.Kind, d.Channels)
	return nil
}

// Start launches the feeder and reader goroutines.
func (d *Device) Start() {
	d.wg.Add(2)
	go d.feederLoop()
	go d.readerLoop()
}

// Stop signals both goroutines to exit and closes the device handle. It
// blocks until both have returned, so no frame is read from the transport
// after Close.
func (d *Device) Stop() {
	close(d.done)
	d.input.Shutdown()
	_ = d.transport.Close()
	d.wg.Wait()
}

func (d *Device) feederLoop() {
	defer d.wg.Done()
	for {
		f, ok := d.input.Pop()
		if !ok {
			return
		}
		select {
		case <-d.done:
			return
		default:
		}

		for d.bufferDepth.Load() >= maxInFlight {
			select {
			case <-d.done:
				return
			case <-time.After(feederBackoff):
			}
		}

		k, ok := d.moduleChannel[f.Module]
		if !ok {
			d.logger.Printf("[ambe] %s: unknown module %q, dropping frame", d.Name, string(f.Module))
			continue
		}

		d.waitingMu.Lock()
		d.waiting[k] = append(d.waiting[k], f)
		d.waitingMu.Unlock()

		var pkt packet
		if f.CodecIn == d.kindToFrameCodec() {
			pkt = channelRequest(k, d.sourcePayload(f))
		} else {
			pkt = speechRequest(k, f.PCM)
		}

		if err := d.writePacket(pkt); err != nil {
			d.logger.Printf("[ambe] %s: write error, dropping in-flight frame: %v", d.Name, err)
			d.popWaiting(k)
			continue
		}
		d.bufferDepth.Add(1)
	}
}

func (d *Device) readerLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		default:
		}

		resp, err := d.readPacket(200 * time.Millisecond)
		if err != nil {
			if err == errTimeout {
				continue
			}
			d.logger.Printf("[ambe] %s: read error: %v", d.Name, err)
			continue
		}

		k := int(resp.fieldID) - int(pktChannel0)
		if k < 0 || k >= d.Channels {
			d.logger.Printf("[ambe] %s: response field_id %#x out of channel range, dropping for alignment", d.Name, resp.fieldID)
			continue
		}

		f := d.popWaiting(k)
		if f == nil {
			d.logger.Printf("[ambe] %s: response on channel %d with no waiting frame, discarding", d.Name, k)
			continue
		}
		d.bufferDepth.Add(-1)

		switch resp.packetType {
		case pktSpeech:
			samples, err := decodeSpeechPayload(resp.payload)
			if err != nil {
				d.logger.Printf("[ambe] %s: malformed speech response: %v", d.Name, err)
				continue
			}
			f.SetAudio(samples, false)
			d.router.DeviceDecoded(d.Kind, f)
		case pktChannel:
			data, err := decodeChannelPayload(resp.payload)
			if err != nil {
				d.logger.Printf("[ambe] %s: malformed channel response: %v", d.Name, err)
				continue
			}
			if d.Kind == DStar {
				f.SetDStar(data[:])
			} else {
				f.SetDmr(data[:])
			}
			d.router.DeviceEncoded(d.Kind, f)
		default:
			d.logger.Printf("[ambe] %s: unexpected response packet_type %#x", d.Name, resp.packetType)
		}
	}
}

func (d *Device) popWaiting(k int) *frame.Frame {
	d.waitingMu.Lock()
	defer d.waitingMu.Unlock()
	if len(d.waiting[k]) == 0 {
		return nil
	}
	f := d.waiting[k][0]
	d.waiting[k] = d.waiting[k][1:]
	return f
}

func (d *Device) sourcePayload(f *frame.Frame) [9]byte {
	if d.Kind == DStar {
		return f.DStar
	}
	return f.Dmr
}

// kindToFrameCodec maps this device's AMBE Kind onto the frame package's
// codec_in enum so the feeder can compare "did this frame arrive already
// encoded in my codec."
func (d *Device) kindToFrameCodec() frame.Codec {
	if d.Kind == DStar {
		return frame.DStar
	}
	return frame.Dmr
}

// swapToNetwork byte-swaps PCM from host order to the network order the
// DVSI hardware expects on the wire.
func (d *Device) swapToNetwork(pcm [frame.PCMSamples]int16) [160]int16 {
	var out [160]int16
	for i, s := range pcm {
		u := uint16(s)
		out[i] = int16(u<<8 | u>>8)
	}
	return out
}

func decodeSpeechPayload(payload []byte) ([160]int16, error) {
	var out [160]int16
	if len(payload) < 1+1+320 {
		return out, fmt.Errorf("speech payload is %d bytes, want >= %d", len(payload), 1+1+320)
	}
	samples := payload[2:]
	for i := 0; i < 160; i++ {
		out[i] = int16(binary.BigEndian.Uint16(samples[i*2:]))
	}
	return out, nil
}

func decodeChannelPayload(payload []byte) ([9]byte, error) {
	var out [9]byte
	if len(payload) < 1+1+9 {
		return out, fmt.Errorf("channel payload is %d bytes, want >= %d", len(payload), 1+1+9)
	}
	copy(out[:], payload[2:2+9])
	return out, nil
}

func (d *Device) writePacket(p packet) error {
	_, err := d.transport.Write(p.encode())
	return err
}

var errTimeout = fmt.Errorf("ambe: read timed out")

// readPacket reads from the transport until one complete packet has been
// resynchronized out of the ring buffer, or timeout elapses.
func (d *Device) readPacket(timeout time.Duration) (packet, error) {
	deadline := time.Now().Add(timeout)
	scratch := make([]byte, 256)
	for {
		if p, ok := extractPacket(d.rb); ok {
			return p, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return packet{}, errTimeout
		}
		n, err := d.transport.Read(scratch, remaining)
		if err != nil {
			return packet{}, err
		}
		if n == 0 {
			continue
		}
		d.rb.AddData(scratch[:n])
	}
}

// extractPacket scans rb for the 0x61 start byte, dropping any stray bytes
// in front of it, then attempts to pull one complete header+body out.
// Returns ok=false when the buffer doesn't yet hold a full packet.
func extractPacket(rb *ringBuffer) (packet, bool) {
	for {
		head, ok := rb.Peek(1)
		if !ok {
			return packet{}, false
		}
		if head[0] == pktHeader {
			break
		}
		rb.DropOne()
	}

	header, ok := rb.Peek(4)
	if !ok {
		return packet{}, false
	}
	length := uint16(header[1])<<8 | uint16(header[2])
	packetType := header[3]

	total := uint32(4) + uint32(length)
	full, ok := rb.Peek(total)
	if !ok {
		return packet{}, false
	}
	rb.GetData(total)

	body := full[4:]
	return packet{
		packetType: packetType,
		fieldID:    body[0],
		payload:    body[1:],
	}, true
}
