// Package router implements the controller: the ingress thread that reads
// frames off the reflector socket and dispatches them by codec_in, the
// fan-out table every worker's completion routes through, and the guarded
// single-delivery send back to the reflector.
//
// Its goroutine-per-duty-cycle pattern and per-subsystem *log.Logger
// discipline follow main_goroutine.go's shape, generalized to a
// five-worker fan-out table instead of two network clients.
package router

import (
	"log"
	"sync"
	"time"

	"github.com/dbehnke/xlx-transcoder/internal/ambe"
	"github.com/dbehnke/xlx-transcoder/internal/frame"
	"github.com/dbehnke/xlx-transcoder/internal/queue"
	"github.com/dbehnke/xlx-transcoder/internal/reflector"
)

// ingressTimeout is the reflector socket read timeout.
const ingressTimeout = 100 * time.Millisecond

// LatencyRecorder is the narrow diagnostics hook the router calls on every
// delivered frame. Implemented by internal/diagnostics; nil is a valid,
// no-op value.
type LatencyRecorder interface {
	RecordLatency(module byte, latency time.Duration)
}

// Router owns the worker queues and AMBE devices, and is the fan-out
// target every worker package's FanOut/Router interface is implemented
// against.
type Router struct {
	Codec2 *queue.Queue
	IMBE   *queue.Queue
	USRP   *queue.Queue

	DStarDevice *ambe.Device
	DmrDevice   *ambe.Device

	socketDir string
	targets   frame.Target
	logger    *log.Logger
	latency   LatencyRecorder

	ingress *reflector.IngressSocket
	done    chan struct{}
	wg      sync.WaitGroup

	sendMu sync.Mutex
}

// New constructs the router. socketDir holds REF2TC and the TC2REF<module>
// files. targets is the configured set of codec completion flags every
// ingress frame must satisfy.
func New(socketDir string, targets frame.Target, codec2, imbe, usrp *queue.Queue, dstar, dmr *ambe.Device, latency LatencyRecorder, logger *log.Logger) *Router {
	return &Router{
		Codec2:      codec2,
		IMBE:        imbe,
		USRP:        usrp,
		DStarDevice: dstar,
		DmrDevice:   dmr,
		socketDir:   socketDir,
		targets:     targets,
		logger:      logger,
		latency:     latency,
		done:        make(chan struct{}),
	}
}

// Start binds the ingress socket and launches the ingress thread.
func (r *Router) Start() error {
	sock, err := reflector.OpenIngress(r.socketDir + "/REF2TC")
	if err != nil {
		return err
	}
	r.ingress = sock
	r.wg.Add(1)
	go r.ingressLoop()
	return nil
}

// Stop signals the ingress thread to exit and closes the socket.
func (r *Router) Stop() {
	close(r.done)
	if r.ingress != nil {
		r.ingress.Close()
	}
	r.wg.Wait()
}

func (r *Router) ingressLoop() {
	defer r.wg.Done()
	buf := make([]byte, 4096)
	for {
		select {
		case <-r.done:
			return
		default:
		}

		n, err := r.ingress.Read(buf, ingressTimeout)
		if err != nil || n == 0 {
			continue
		}

		f, err := reflector.DecodeIngress(buf[:n], r.targets)
		if err != nil {
			r.logger.Printf("[router] dropping malformed ingress datagram: %v", err)
			continue
		}
		r.dispatchIngress(f)
	}
}

// dispatchIngress routes a freshly-constructed frame to its decode worker
// or device by codec_in.
func (r *Router) dispatchIngress(f *frame.Frame) {
	switch f.CodecIn {
	case frame.DStar:
		if r.DStarDevice != nil {
			r.DStarDevice.Enqueue(f)
		}
	case frame.Dmr:
		if r.DmrDevice != nil {
			r.DmrDevice.Enqueue(f)
		}
	case frame.P25:
		r.IMBE.Push(f)
	case frame.Usrp:
		r.USRP.Push(f)
	case frame.C2_3200, frame.C2_1600:
		r.Codec2.Push(f)
	default:
		r.logger.Printf("[router] unknown codec_in %v on module %c, dropping", f.CodecIn, f.Module)
	}
}

// Deliver checks all_codecs_set and, if satisfied, sends the completed
// frame back to the reflector exactly once. Any worker that just completed
// the last required field calls this.
func (r *Router) Deliver(f *frame.Frame) {
	if !f.AllCodecsSet() {
		return
	}
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	if f.MarkSent() {
		return
	}
	payload := reflector.EncodeEgress(f)
	if err := reflector.SendEgress(r.socketDir, f.Module, payload); err != nil {
		r.logger.Printf("[router] delivery failed for module %c stream %#x: %v", f.Module, f.StreamID, err)
		return
	}
	if r.latency != nil {
		r.latency.RecordLatency(f.Module, f.Latency(time.Now()))
	}
}
