// Command transcoder is the multi-codec reflector transcoder's process
// entrypoint: it loads the INI configuration, wires the frame/queue/worker
// fabric and the two AMBE devices to the router, and runs until a shutdown
// signal arrives.
//
// Grounded on cmd/ysf2dmr/main.go's Gateway shape (NewGateway/Start/Stop,
// log.Fatalf on fatal init error) and main_goroutine.go's
// signal.Notify(SIGINT, SIGTERM)/sync.WaitGroup shutdown idiom, generalized
// from two network clients to five workers plus two AMBE devices.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/dbehnke/xlx-transcoder/internal/ambe"
	"github.com/dbehnke/xlx-transcoder/internal/codec2worker"
	"github.com/dbehnke/xlx-transcoder/internal/config"
	"github.com/dbehnke/xlx-transcoder/internal/diagnostics"
	"github.com/dbehnke/xlx-transcoder/internal/frame"
	"github.com/dbehnke/xlx-transcoder/internal/imbeworker"
	"github.com/dbehnke/xlx-transcoder/internal/queue"
	"github.com/dbehnke/xlx-transcoder/internal/router"
	"github.com/dbehnke/xlx-transcoder/internal/usrpworker"
	"github.com/dbehnke/xlx-transcoder/internal/vocoder"
)

const version = "1.0.0-go"

const statsInterval = 30 * time.Second

// Gateway owns every long-lived component the transcoder wires together:
// the worker fabric, the two AMBE devices, the router, and (optionally)
// the diagnostics store.
type Gateway struct {
	cfg    *config.Config
	logger *log.Logger

	codec2Q *queue.Queue
	imbeQ   *queue.Queue
	usrpQ   *queue.Queue

	dstarDevice *ambe.Device
	dmrDevice   *ambe.Device

	codec2Worker *codec2worker.Worker
	imbeWorker   *imbeworker.Worker
	usrpWorker   *usrpworker.Worker

	router        *router.Router
	diag          *diagnostics.Store
	retentionDays uint32

	running  bool
	mu       sync.Mutex
	wg       sync.WaitGroup
	overload chan struct{}
	stop     chan struct{}
}

// NewGateway loads and validates configPath, then constructs every
// component wired from it. No goroutines are started and no device is
// opened yet; call Start for that.
func NewGateway(configPath string) (*Gateway, error) {
	cfg := config.NewConfig(configPath)
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	// Config reports retention in hours; the diagnostics store takes a day
	// count, so round up rather than silently truncating sub-24h windows to
	// zero.
	retentionDays := (cfg.GetDiagnosticsRetention() + 23) / 24

	var diag *diagnostics.Store
	if cfg.GetDiagnosticsEnabled() {
		store, err := diagnostics.Open(diagnostics.Config{
			Path:      cfg.GetDiagnosticsPath(),
			Retention: retentionDays,
		}, log.New(os.Stdout, "[diag] ", log.LstdFlags))
		if err != nil {
			return nil, fmt.Errorf("opening diagnostics store: %w", err)
		}
		diag = store
	}

	channels := 1
	if cfg.GetDeviceClass() == 3003 {
		channels = 3
	}
	modules := cfg.GetModules()

	dstarDevice, err := ambe.New(cfg.GetDStarDevicePath(), ambe.DStar, channels, vocoder.NewFileTransport(), modules,
		cfg.GetDStarGainIn(), cfg.GetDStarGainOut(), nil, log.New(os.Stdout, "[ambe-dstar] ", log.LstdFlags))
	if err != nil {
		return nil, fmt.Errorf("constructing D-Star device: %w", err)
	}
	dmrDevice, err := ambe.New(cfg.GetDmrDevicePath(), ambe.DmrSf, channels, vocoder.NewFileTransport(), modules,
		cfg.GetDmrYsfGainIn(), cfg.GetDmrYsfGainOut(), nil, log.New(os.Stdout, "[ambe-dmr] ", log.LstdFlags))
	if err != nil {
		return nil, fmt.Errorf("constructing DMR/YSF device: %w", err)
	}

	codec2Q := queue.New("codec2", queue.Overflow)
	imbeQ := queue.New("imbe", queue.Overflow)
	usrpQ := queue.New("usrp", queue.Overflow)

	var latency router.LatencyRecorder
	if diag != nil {
		latency = diag
	}

	r := router.New(cfg.GetReflectorSocketDir(), frame.AllTargets(), codec2Q, imbeQ, usrpQ, dstarDevice, dmrDevice,
		latency, log.New(os.Stdout, "[router] ", log.LstdFlags))

	// The Router needed both devices to construct; the devices need the
	// Router for their reader threads' callback. Bind the other half of
	// the cycle now, before Start launches any goroutine.
	dstarDevice.SetRouter(r)
	dmrDevice.SetRouter(r)

	c2w := codec2worker.New(codec2Q, vocoder.UnimplementedCodec2{}, r, log.New(os.Stdout, "[codec2] ", log.LstdFlags))
	imbeW := imbeworker.New(imbeQ, vocoder.UnimplementedIMBE{}, r, log.New(os.Stdout, "[imbe] ", log.LstdFlags))
	usrpW := usrpworker.New(usrpQ, cfg.GetUsrpTxGain(), cfg.GetUsrpRxGain(), r, log.New(os.Stdout, "[usrp] ", log.LstdFlags))

	return &Gateway{
		cfg:           cfg,
		logger:        logger,
		codec2Q:       codec2Q,
		imbeQ:         imbeQ,
		usrpQ:         usrpQ,
		dstarDevice:   dstarDevice,
		dmrDevice:     dmrDevice,
		codec2Worker:  c2w,
		imbeWorker:    imbeW,
		usrpWorker:    usrpW,
		router:        r,
		diag:          diag,
		retentionDays: retentionDays,
		overload:      make(chan struct{}),
		stop:          make(chan struct{}),
	}, nil
}

// Start opens both AMBE devices, launches every worker goroutine and the
// router's ingress thread, and starts the periodic stats ticker. A failure
// opening a device is a fatal initialization error; Start returns it
// without starting anything else.
func (g *Gateway) Start() error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return fmt.Errorf("gateway already running")
	}
	g.running = true
	g.mu.Unlock()

	if err := g.dstarDevice.Open(); err != nil {
		g.recordDeviceInit("dstar", g.dstarDevice, err)
		return err
	}
	g.recordDeviceInit("dstar", g.dstarDevice, nil)

	if err := g.dmrDevice.Open(); err != nil {
		g.recordDeviceInit("dmr", g.dmrDevice, err)
		return err
	}
	g.recordDeviceInit("dmr", g.dmrDevice, nil)

	g.dstarDevice.Start()
	g.dmrDevice.Start()

	g.wg.Add(3)
	go func() { defer g.wg.Done(); g.codec2Worker.Run() }()
	go func() { defer g.wg.Done(); g.imbeWorker.Run() }()
	go func() { defer g.wg.Done(); g.usrpWorker.Run() }()

	if err := g.router.Start(); err != nil {
		return fmt.Errorf("starting router: %w", err)
	}

	g.wg.Add(1)
	go g.statsTicker()

	g.logger.Printf("transcoder v%s started: modules=%s device_class=%d", version, string(g.cfg.GetModules()), g.cfg.GetDeviceClass())
	return nil
}

func (g *Gateway) recordDeviceInit(name string, d *ambe.Device, openErr error) {
	if g.diag == nil {
		return
	}
	detail := ""
	if openErr != nil {
		detail = openErr.Error()
	}
	g.diag.RecordDeviceInit(name, d.ProdID(), d.VerString(), openErr == nil, detail)
}

// Stop signals every goroutine to exit and waits for all of them: no
// resource is released while a handle might still be read.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	g.mu.Unlock()

	close(g.stop)
	g.router.Stop()
	g.dstarDevice.Stop()
	g.dmrDevice.Stop()
	g.codec2Q.Shutdown()
	g.imbeQ.Shutdown()
	g.usrpQ.Shutdown()
	g.wg.Wait()

	if g.diag != nil {
		if err := g.diag.Close(); err != nil {
			g.logger.Printf("closing diagnostics store: %v", err)
		}
	}
	g.logger.Printf("transcoder stopped")
}

// Overloaded reports whether any queue has tripped its safety-cap backstop.
// main treats this as a request for an external supervisor to restart the
// process.
func (g *Gateway) Overloaded() bool {
	return g.codec2Q.Overflowed() || g.imbeQ.Overflowed() || g.usrpQ.Overflowed() ||
		g.dstarDevice.Overflowed() || g.dmrDevice.Overflowed()
}

// statsTicker logs a periodic health line: queue depths and, when
// diagnostics is enabled, the latency distribution over all delivered
// frames. Output is colorized only on an interactive terminal, gated by
// go-isatty the same way ysf2dmr's stats report checks terminal capability
// before using ANSI codes.
func (g *Gateway) statsTicker() {
	defer g.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	colorize := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.logStats(colorize)
			if g.diag != nil && g.retentionDays > 0 {
				if err := g.diag.Prune(g.retentionDays); err != nil {
					g.logger.Printf("pruning diagnostics: %v", err)
				}
			}
			if g.Overloaded() {
				g.logger.Printf("queue overflow detected, requesting shutdown")
				select {
				case <-g.overload:
				default:
					close(g.overload)
				}
				return
			}
		}
	}
}

func (g *Gateway) logStats(colorize bool) {
	line := fmt.Sprintf("codec2=%d imbe=%d usrp=%d dstar=%d dmr=%d",
		g.codec2Q.Len(), g.imbeQ.Len(), g.usrpQ.Len(), g.dstarDevice.QueueDepth(), g.dmrDevice.QueueDepth())

	if g.diag != nil {
		if stats, err := g.diag.Stats(); err == nil {
			line += " " + stats.String()
		}
	}

	if colorize {
		g.logger.Printf("\033[36m[stats]\033[0m %s", line)
	} else {
		g.logger.Printf("[stats] %s", line)
	}
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.BoolVar(showVersion, "v", false, "print version and exit (shorthand)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("transcoder v%s\n", version)
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s <config-file>\n", os.Args[0])
		os.Exit(1)
	}

	gw, err := NewGateway(flag.Arg(0))
	if err != nil {
		log.Fatalf("transcoder: %v", err)
	}

	if err := gw.Start(); err != nil {
		log.Fatalf("transcoder: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Printf("transcoder: received %s, shutting down", sig)
	case <-gw.overload:
		exitCode = 1
	}

	gw.Stop()
	os.Exit(exitCode)
}
