package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/imu.recorder/internal/config"
	"github.com/banshee-data/imu.recorder/internal/db"
	"github.com/banshee-data/imu.recorder/internal/monitoring"
	"github.com/banshee-data/imu.recorder/internal/publish"
	"github.com/banshee-data/imu.recorder/internal/recorder"
	"github.com/banshee-data/imu.recorder/internal/serialmux"
	"github.com/banshee-data/imu.recorder/internal/session"
	"github.com/banshee-data/imu.recorder/internal/version"
)

// cliFlags holds the command line. Values only override the config file when
// the flag was given explicitly.
type cliFlags struct {
	configPath  string
	port        string
	baud        int
	dev         bool
	disableIMU  bool
	listen      string
	dbPath      string
	outDir      string
	window      time.Duration
	participant string
	gesture     string
	autoStart   bool
	mqttBroker  string
	mqttTopic   string
	version     bool
}

func parseFlags(args []string) (*cliFlags, *flag.FlagSet, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("imu-recorder", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "Path to a JSON config file")
	fs.StringVar(&f.port, "port", config.DefaultSerialPort, "Serial port to use (ignored in dev mode)")
	fs.IntVar(&f.baud, "baud", serialmux.DefaultBaudRate, "Serial baud rate")
	fs.BoolVar(&f.dev, "dev", false, "Use a synthetic frame source instead of a serial port")
	fs.BoolVar(&f.disableIMU, "disable-imu", false, "Run without an IMU; only the catalog and debug routes are served")
	fs.StringVar(&f.listen, "listen", config.DefaultListen, "Listen address for debug routes")
	fs.StringVar(&f.dbPath, "db", config.DefaultDBPath, "Capture catalog database")
	fs.StringVar(&f.outDir, "out", config.DefaultOutputDir, "Directory captures are saved to")
	fs.DurationVar(&f.window, "window", config.DefaultWindow, "Recording window length")
	fs.StringVar(&f.participant, "participant", "", "Participant ID written to capture headers")
	fs.StringVar(&f.gesture, "gesture", "", "Gesture type written to capture headers")
	fs.BoolVar(&f.autoStart, "auto-start", false, "Start a recording window at launch and after every save")
	fs.StringVar(&f.mqttBroker, "mqtt-broker", "", "MQTT broker URL for live records (empty disables)")
	fs.StringVar(&f.mqttTopic, "mqtt-topic", config.DefaultMQTTTopic, "MQTT topic for live records")
	fs.BoolVar(&f.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs, nil
}

// resolveConfig loads the config file, if any, and applies explicitly set
// flags on top of it.
func resolveConfig(f *cliFlags, fs *flag.FlagSet) (*config.RecorderConfig, error) {
	cfg := &config.RecorderConfig{}
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadRecorderConfig(f.configPath); err != nil {
			return nil, err
		}
	}

	ds := cfg.GetDataset()
	var err error
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.SerialPort = &f.port
		case "baud":
			opts := cfg.GetSerialOptions()
			opts.BaudRate = f.baud
			cfg.Serial = &opts
		case "listen":
			cfg.Listen = &f.listen
		case "db":
			cfg.DBPath = &f.dbPath
		case "out":
			cfg.OutputDir = &f.outDir
		case "window":
			w := f.window.String()
			cfg.Window = &w
		case "participant":
			ds.ParticipantID = f.participant
			cfg.Dataset = &ds
		case "gesture":
			ds.GestureType = f.gesture
			cfg.Dataset = &ds
		case "mqtt-broker":
			cfg.MQTTBroker = &f.mqttBroker
		case "mqtt-topic":
			cfg.MQTTTopic = &f.mqttTopic
		}
	})
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	if err = cfg.GetDataset().Validate(); err != nil {
		return nil, fmt.Errorf("invalid dataset info: %w", err)
	}
	return cfg, nil
}

// openIMU picks the frame source. A port that cannot be opened falls back to
// a disabled source so the catalog stays reachable.
func openIMU(f *cliFlags, cfg *config.RecorderConfig, factory serialmux.SerialPortFactory) serialmux.SerialMuxInterface {
	switch {
	case f.disableIMU:
		log.Print("IMU disabled; serving catalog and debug routes only")
		return serialmux.NewDisabledSerialMux()
	case f.dev:
		return serialmux.NewMockSerialMux(10 * time.Millisecond)
	}

	path, opts := cfg.GetSerialPort(), cfg.GetSerialOptions()
	mux, err := serialmux.OpenSerialMux(factory, path, opts)
	if err != nil {
		log.Printf("failed to open IMU port: %v", err)
		if ports, lerr := serialmux.ListPorts(); lerr == nil {
			log.Printf("available serial ports: %v", ports)
		}
		log.Print("continuing with the IMU disabled")
		return serialmux.NewDisabledSerialMux()
	}
	log.Printf("opened %s at %s", path, opts)
	return mux
}

// runMigrate implements "imu-recorder migrate [-db path] <command>".
func runMigrate(args []string) int {
	fs := flag.NewFlagSet("imu-recorder migrate", flag.ContinueOnError)
	dbPath := fs.String("db", config.DefaultDBPath, "Capture catalog database")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := db.RunMigrateCommand(os.Stdout, fs.Args(), *dbPath); err != nil {
		log.Printf("migrate: %v", err)
		return 1
	}
	return 0
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		os.Exit(runMigrate(os.Args[2:]))
	}

	flags, fs, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}
	if flags.version {
		fmt.Println(version.String())
		return
	}
	cfg, err := resolveConfig(flags, fs)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	log.Print(version.String())

	imuSerial := openIMU(flags, cfg, serialmux.RealSerialPortFactory{})
	defer imuSerial.Close()

	catalog, err := db.OpenDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to open capture catalog: %v", err)
	}
	defer catalog.Close()

	var publisher publish.Publisher = publish.NopPublisher{}
	if broker := cfg.GetMQTTBroker(); broker != "" {
		p, err := publish.DialMQTT(broker, cfg.GetMQTTClientID(), cfg.GetMQTTTopic())
		if err != nil {
			log.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		log.Printf("publishing records to %s on %s", p.Topic(), broker)
		publisher = p
	}
	defer publisher.Close()

	writer, err := recorder.New(cfg.GetTempDir(), nil)
	if err != nil {
		log.Fatalf("failed to create capture buffer: %v", err)
	}
	defer writer.Close()

	info := cfg.GetDataset()
	if cfg.Dataset == nil || cfg.Dataset.CollectionCount == 0 {
		next, err := catalog.NextCollectionCount(info.ParticipantID, info.GestureType)
		if err != nil {
			log.Fatalf("failed to read collection count: %v", err)
		}
		info.CollectionCount = next
	}

	outDir := cfg.GetOutputDir()
	var rec *session.Session
	rec, err = session.New(session.Config{
		Writer:    writer,
		Catalog:   catalog,
		Publisher: publisher,
		Info:      info,
		Window:    cfg.GetWindow(),
		Tick:      cfg.GetProgressTick(),

		StreamDiscarded: imuSerial.Discarded,
		OnComplete: func(st session.Status) {
			c, err := rec.SaveNext(outDir)
			switch {
			case errors.Is(err, session.ErrNoRecords):
				log.Printf("window closed with no records (%d frames dropped)", st.Counters.Dropped())
			case err != nil:
				log.Printf("failed to save capture: %v", err)
			default:
				log.Printf("saved %s (%d records, %d dropped frames)", c.Path, c.Records, c.DroppedFrames)
			}
			if flags.autoStart {
				if err := rec.Start(); err != nil {
					log.Printf("failed to start next window: %v", err)
				}
			}
		},
	})
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}
	log.Printf("session %s saving to %s as %s", rec.ID(), outDir, info.FileName())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := imuSerial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
			stop()
		}
		log.Print("monitor routine terminated")
	}()

	// feed frames from the serial port into the session
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := imuSerial.Subscribe()
		defer imuSerial.Unsubscribe(id)
		if err := rec.Run(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("session routine failed: %v", err)
		}
		log.Print("session routine terminated")
	}()

	if flags.autoStart {
		if err := rec.Start(); err != nil {
			log.Printf("failed to start recording: %v", err)
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		imuSerial.AttachAdminRoutes(mux)
		catalog.AttachAdminRoutes(mux)
		rec.AttachAdminRoutes(mux, outDir)

		server := &http.Server{
			Addr:              cfg.GetListen(),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Printf("debug routes on http://%s/debug/", cfg.GetListen())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
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

	wg.Wait()

	st := rec.Status()
	monitoring.Logf("frames received %d, records %d, dropped %d, unsaved %d, stream bytes discarded %d",
		st.Counters.Received, st.Counters.Records, st.Counters.Dropped(), st.Buffered, st.StreamDiscarded)
	log.Printf("Graceful shutdown complete")
}
