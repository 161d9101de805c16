// Command rescuebot is the onboard controller of the line-following rescue
// robot. It talks to the actuator controller over serial, follows the line
// seen by the line camera and runs the rescue routine on external
// detections.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/rescuebot/internal/api"
	"github.com/banshee-data/rescuebot/internal/camera"
	"github.com/banshee-data/rescuebot/internal/config"
	"github.com/banshee-data/rescuebot/internal/db"
	"github.com/banshee-data/rescuebot/internal/fsutil"
	"github.com/banshee-data/rescuebot/internal/link"
	"github.com/banshee-data/rescuebot/internal/monitoring"
	"github.com/banshee-data/rescuebot/internal/navigation"
	"github.com/banshee-data/rescuebot/internal/perception"
	"github.com/banshee-data/rescuebot/internal/perception/cvline"
	"github.com/banshee-data/rescuebot/internal/rescue"
	"github.com/banshee-data/rescuebot/internal/serialmux"
	"github.com/banshee-data/rescuebot/internal/timeutil"
	"github.com/banshee-data/rescuebot/internal/version"
)

type options struct {
	configPath string
	port       string
	baud       int
	cameraDev  int
	dev        bool
	listen     string
	origins    string
	dbPath     string
	debug      bool
	debugDir   string
	logFile    string
	version    bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("rescuebot", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to a JSON or YAML config file (defaults are built in)")
	fs.StringVar(&o.port, "port", "", "Serial port override (ignored in dev mode)")
	fs.IntVar(&o.baud, "baud", 0, "Serial baud rate override")
	fs.IntVar(&o.cameraDev, "camera", -1, "Line camera device index override")
	fs.BoolVar(&o.dev, "dev", false, "Run against a simulated actuator controller and a synthetic camera")
	fs.StringVar(&o.listen, "listen", ":8080", "HTTP listen address (empty disables the API)")
	fs.StringVar(&o.origins, "allow-origin", "", "Comma-separated browser origins, besides the robot's own host, allowed to post detections and stream")
	fs.StringVar(&o.dbPath, "db", "", "Record a tick journal to this SQLite file")
	fs.BoolVar(&o.debug, "debug", false, "Enable per-frame and per-tick debug logging")
	fs.StringVar(&o.debugDir, "debug-dir", "", "Write perception debug images to this directory")
	fs.StringVar(&o.logFile, "log-file", "", "Also append logs to this file")
	fs.BoolVar(&o.version, "version", false, "Print the build version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.baud < 0 {
		return o, fmt.Errorf("-baud must be positive, got %d", o.baud)
	}
	return o, nil
}

// loadConfig reads the config file if one is given and applies the flag
// overrides on top.
func loadConfig(o options) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.port != "" {
		cfg.Serial.Port = o.port
	}
	if o.baud > 0 {
		cfg.Serial.Options.BaudRate = o.baud
	}
	if o.cameraDev >= 0 {
		cfg.Camera.LineDevice = o.cameraDev
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogging switches the standard logger to microsecond timestamps and
// tees it into path when one is given.
func setupLogging(path string) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if path == "" {
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if o.version {
		fmt.Println(version.String())
		return
	}

	logCloser, err := setupLogging(o.logFile)
	if err != nil {
		log.Fatal(err)
	}
	defer logCloser.Close()
	monitoring.SetDebug(o.debug)
	log.Printf("%s starting", version.String())

	cfg, err := loadConfig(o)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Printf("configuration:\n%s", cfg.Summary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, o, cfg)
	stop()
	if err != nil {
		log.Printf("rescuebot: %v", err)
		if link.IsTransportError(err) {
			logCloser.Close()
			os.Exit(1)
		}
	}
	log.Printf("shutdown complete")
}

// openLink opens the serial transport, real or simulated.
func openLink(o options, cfg *config.Config) (*serialmux.SerialMux[serialmux.SerialPorter], error) {
	if o.dev {
		log.Printf("dev mode: simulated actuator controller")
		return serialmux.NewSerialMux[serialmux.SerialPorter](serialmux.NewSimulatedPeer()), nil
	}
	m, err := serialmux.NewRealSerialMux(cfg.Serial.Port, cfg.Serial.Options)
	if err != nil {
		return nil, err
	}
	log.Printf("opened %s (%s)", cfg.Serial.Port, cfg.Serial.Options)
	return m, nil
}

// openCamera opens the line camera, or a synthetic source in dev mode.
func openCamera(o options, cfg *config.Config) (camera.Source, error) {
	cc := cfg.Camera
	if o.dev {
		interval := time.Second / 30
		if cc.FPS > 0 {
			interval = time.Duration(float64(time.Second) / cc.FPS)
		}
		return camera.NewSynthetic(cc.Width, cc.Height, interval), nil
	}
	return camera.Open(cc.LineDevice, cc, cc.LineControls)
}

func run(parent context.Context, o options, cfg *config.Config) error {
	// ctx also ends when the controller fails, which stops the camera and
	// the HTTP server.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	mode := "hardware"
	if o.dev {
		mode = "dev"
	}

	serialMux, err := openLink(o, cfg)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	defer cancelMonitor()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serialMux.Monitor(monitorCtx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("[link] monitor: %v", err)
		}
	}()

	ch := link.New(serialMux, link.Options{
		ExchangeTimeout:   cfg.Serial.ExchangeTimeout.D(),
		HandshakeInterval: cfg.Serial.HandshakeInterval.D(),
		ClearDistance:     cfg.Serial.ClearDistance,
	})
	defer func() {
		if err := ch.Close(); err != nil {
			monitoring.Logf("[link] close: %v", err)
		}
		cancelMonitor()
		wg.Wait()
	}()

	log.Printf("waiting for the actuator controller...")
	if err := ch.Handshake(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	log.Printf("actuator controller ready")

	snapshots := perception.NewStore()
	proc, err := cvline.NewProcessor(cfg.Vision, snapshots, cvline.Options{
		DebugDir: o.debugDir,
		FS:       fsutil.OSFileSystem{},
	})
	if err != nil {
		return err
	}
	defer proc.Close()

	src, err := openCamera(o, cfg)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := src.Run(ctx, func(frame gocv.Mat) { proc.Process(frame) })
		if err != nil {
			monitoring.Logf("[camera] %v", err)
		}
	}()
	defer func() {
		if err := src.Close(); err != nil {
			monitoring.Logf("[camera] close: %v", err)
		}
	}()

	detections := rescue.NewDetectionStore(timeutil.RealClock{}, cfg.Rescue.DetectionMaxAge.D())

	var (
		journalDB *db.DB
		journal   *db.Journal
		runID     string
	)
	if o.dbPath != "" {
		if journalDB, err = db.NewDB(o.dbPath); err != nil {
			return err
		}
		defer journalDB.Close()
		if runID, err = journalDB.StartRun(ctx, time.Now(), mode, version.String()+"\n"+cfg.Summary()); err != nil {
			return err
		}
		journal = db.NewJournal(journalDB, runID, db.JournalConfig{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = journal.Run(context.Background())
		}()
	}

	deps := navigation.Deps{
		Link:       ch,
		Snapshots:  snapshots,
		Detections: detections,
		Clock:      timeutil.RealClock{},
	}
	if journal != nil {
		deps.Recorder = journal
	}
	controller := navigation.New(cfg, deps)

	if o.listen != "" {
		srv := api.NewServer(api.Options{
			Snapshots:      snapshots,
			Status:         controller,
			Detections:     detections,
			Journal:        journalDB,
			AllowedOrigins: splitList(o.origins),
		})
		mux := srv.ServeMux()
		srv.AttachAdminRoutes(mux)
		serialMux.AttachAdminRoutes(mux)
		if journalDB != nil {
			journalDB.AttachAdminRoutes(mux)
		}
		server := &http.Server{Addr: o.listen, Handler: api.LoggingMiddleware(mux)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serve(ctx, server)
		}()
	}

	runErr := controller.Run(ctx)

	// Neutral first, then the producers, then the link (deferred above).
	if err := ch.Stop(); err != nil {
		monitoring.Logf("[link] neutral on shutdown: %v", err)
	}
	cancel()
	if journal != nil {
		journal.Stop()
		reason := "shutdown"
		if runErr != nil {
			reason = runErr.Error()
		}
		if err := journalDB.FinishRun(context.Background(), runID, time.Now(), reason); err != nil {
			monitoring.Logf("[db] %v", err)
		}
		written, dropped := journal.Stats()
		log.Printf("journal: %d ticks written, %d dropped", written, dropped)
	}
	return runErr
}

func serve(ctx context.Context, server *http.Server) {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server: %v", err)
		}
		return
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
