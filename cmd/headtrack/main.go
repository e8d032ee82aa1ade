package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/headtrack/internal/api"
	"github.com/banshee-data/headtrack/internal/camera"
	"github.com/banshee-data/headtrack/internal/config"
	"github.com/banshee-data/headtrack/internal/db"
	"github.com/banshee-data/headtrack/internal/monitoring"
	"github.com/banshee-data/headtrack/internal/pointtracker"
	"github.com/banshee-data/headtrack/internal/posestream"
	"github.com/banshee-data/headtrack/internal/serialmux"
	"github.com/banshee-data/headtrack/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to a settings file (JSON, YAML or TOML); empty uses built-in defaults")
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen = flag.String("grpc", "localhost:50061", "gRPC pose stream listen address (empty disables)")
	dbPath     = flag.String("db", "headtrack.db", "SQLite pose database (empty disables recording)")
	serialPort = flag.String("serial", "", "Serial device receiving pose lines (empty disables)")
	serialBaud = flag.Int("serial-baud", serialmux.DefaultBaudRate, "Serial baud rate")
	synthetic  = flag.Bool("synthetic", false, "Use a synthetic camera rendering a swaying marker model")
	framesDir  = flag.String("frames", "", "Replay image files from this directory instead of a camera")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn or error")
	plotDir    = flag.String("plot-dir", "", "Write a PNG plot of the recorded session here on shutdown")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

// publisher receives every polled sample.
type publisher interface {
	Publish(pointtracker.Sample) error
}

type namedPublisher struct {
	name string
	publisher
}

func loadSettings(path string) (config.Settings, error) {
	if path == "" {
		return config.DefaultSettings(), nil
	}
	return config.Load(path)
}

// buildSource picks the frame source from the flags and wraps it for the
// configured rotation. The synthetic source is returned separately so the
// caller can animate it.
func buildSource(settings config.Settings, useSynthetic bool, dir string) (camera.FrameSource, *camera.Synthetic, error) {
	rot, err := camera.ParseRotation(settings.Rotation)
	if err != nil {
		return nil, nil, err
	}

	var (
		src   camera.FrameSource
		synth *camera.Synthetic
	)
	switch {
	case dir != "":
		src = camera.NewSequence(dir, true)
	case useSynthetic:
		model := pointtracker.NewPointModel(settings.M01, settings.M02)
		var markers [][3]float64
		for _, p := range model.Points() {
			markers = append(markers, [3]float64{p.X, p.Y, p.Z})
		}
		synth = camera.NewSynthetic(markers)
		src = synth
	default:
		return nil, nil, errors.New("no frame source: pass -synthetic or -frames (device capture is not built in)")
	}

	if rot != camera.RotateZero {
		src = camera.NewRotated(src, rot)
	}
	return src, synth, nil
}

// sway moves the synthetic model through a slow yaw and pitch oscillation
// about 50 cm from the camera.
func sway(ctx context.Context, synth *camera.Synthetic) {
	start := time.Now()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t := now.Sub(start).Seconds()
			yaw := 25 * math.Sin(2*math.Pi*t/8)
			pitch := 10 * math.Sin(2*math.Pi*t/5)
			synth.SetPose(pointtracker.RotY(yaw).Mul(pointtracker.RotX(pitch)), [3]float64{0, 0, 500})
		}
	}
}

// poll samples the tracker every interval and hands the sample to every
// publisher until ctx is done.
func poll(ctx context.Context, tracker *pointtracker.Tracker, interval time.Duration, pubs []namedPublisher) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sample := tracker.Sample(now)
			for _, p := range pubs {
				if err := p.Publish(sample); err != nil {
					monitoring.Logf("publish to %s: %v", p.name, err)
				}
			}
		}
	}
}

// Main
func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.Get())
		return
	}

	monitoring.UseZerolog(monitoring.NewZerolog(nil, *logLevel))

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	src, synth, err := buildSource(settings, *synthetic, *framesDir)
	if err != nil {
		log.Fatalf("failed to build frame source: %v", err)
	}

	tracker := pointtracker.NewTracker(src, nil)
	tracker.Apply(settings)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tracker.Start(ctx); err != nil {
		log.Fatalf("failed to start tracker: %v", err)
	}
	defer tracker.Stop()

	server := api.NewServer(ctx, tracker, api.DefaultHistorySize)
	pubs := []namedPublisher{{"history", server}}
	mux := server.ServeMux()

	if *dbPath != "" {
		store, err := db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()

		label := "live"
		switch {
		case *framesDir != "":
			label = "replay " + *framesDir
		case *synthetic:
			label = "synthetic"
		}
		rec, err := store.NewRecorder(label, settings, time.Now())
		if err != nil {
			log.Fatalf("failed to start session: %v", err)
		}
		monitoring.Logf("recording session %s to %s", rec.Session().ID, store.Path())
		pubs = append(pubs, namedPublisher{"db", rec})

		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("failed to attach admin routes: %v", err)
		}

		if *plotDir != "" {
			// runs after the poll routine has exited
			defer func() {
				path, err := store.ExportSessionPlot(*plotDir, rec.Session())
				if err != nil {
					log.Printf("failed to export session plot: %v", err)
					return
				}
				log.Printf("wrote session plot to %s", path)
			}()
		}
	}

	if *grpcListen != "" {
		cfg := posestream.DefaultConfig()
		cfg.ListenAddr = *grpcListen
		ps := posestream.NewPublisher(cfg)
		ps.SetController(tracker)
		if err := ps.Start(); err != nil {
			log.Fatalf("failed to start pose stream: %v", err)
		}
		defer ps.Stop()
		pubs = append(pubs, namedPublisher{"grpc", ps})
	}

	var wg sync.WaitGroup

	if *serialPort != "" {
		port, err := serialmux.OpenSerialMux(*serialPort, serialmux.PortOptions{BaudRate: *serialBaud})
		if err != nil {
			log.Fatalf("failed to open serial port %s: %v", *serialPort, err)
		}
		defer port.Close()
		port.SetController(tracker)
		pubs = append(pubs, namedPublisher{"serial", port})

		// run the monitor routine to pick up commands from the device
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := port.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("monitor routine terminated")
		}()
	}

	if synth != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sway(ctx, synth)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		poll(ctx, tracker, settings.PollInterval, pubs)
		log.Print("poll routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	monitoring.Logf("headtrack: serving on %s", *listen)
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
