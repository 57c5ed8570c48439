package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/mesh.report/internal/api"
	"github.com/banshee-data/mesh.report/internal/config"
	"github.com/banshee-data/mesh.report/internal/correlate"
	"github.com/banshee-data/mesh.report/internal/db"
	"github.com/banshee-data/mesh.report/internal/dispatch"
	"github.com/banshee-data/mesh.report/internal/monitor"
	"github.com/banshee-data/mesh.report/internal/packet"
	"github.com/banshee-data/mesh.report/internal/report"
	"github.com/banshee-data/mesh.report/internal/rflog"
	"github.com/banshee-data/mesh.report/internal/serialmux"
	"github.com/banshee-data/mesh.report/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode with a mock serial feed")
	listen     = flag.String("listen", ":8080", "Listen address")
	port       = flag.String("port", "", "Serial port to use (overrides config; ignored in dev mode)")
	dbFile     = flag.String("db", "contacts.db", "Contact database file")
	configFile = flag.String("config", "", "Path to bridge config JSON")
	migrations = flag.String("migrations", "migrations", "Path to migration files")
)

// mockLine is the frame the dev-mode serial feed repeats: a FLOOD
// GRP_TXT via two hops, enough to exercise the whole pipeline.
const mockLine = "RF: 15041100980001020300f15365626f623a20216d74 snr=7.5 rssi=-95\n"

func main() {
	flag.Parse()

	log.Printf("meshbridge %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyBridgeConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadBridgeConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	serialPort := cfg.GetSerialPort()
	if *port != "" {
		serialPort = *port
	}

	var nodeSerial serialmux.SerialMuxInterface
	if *devMode {
		nodeSerial = serialmux.NewMockSerialMux([]byte(mockLine))
	} else {
		var err error
		nodeSerial, err = serialmux.NewRealSerialMux(serialPort, serialmux.PortOptions{
			BaudRate: cfg.GetBaudRate(),
		})
		if err != nil {
			log.Fatalf("failed to open serial port %s: %v", serialPort, err)
		}
	}
	defer nodeSerial.Close()

	if err := nodeSerial.Initialize(); err != nil {
		log.Fatalf("failed to initialize companion node: %v", err)
	}
	log.Printf("initialized companion node on %s", serialPort)

	contacts, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer contacts.Close()

	if err := contacts.MigrateUp(*migrations); err != nil {
		log.Printf("migrations skipped: %v", err)
	}

	buf := rflog.NewBuffer(cfg.GetRFRetention(), cfg.GetRFMaxEntries())
	correlator := correlate.New(buf, cfg.GetListenDuration(), cfg.GetBackscan())
	stats := monitor.NewFrameStats()

	txLimiter := report.NewRateLimiter(cfg.GetTxGap())
	sender := report.SenderFunc(func(text string) error {
		return nodeSerial.SendCommand("send " + text)
	})

	dispatcher := dispatch.NewDispatcher(sender, txLimiter)
	dispatcher.PageChars = cfg.GetPageChars()
	dispatcher.Register(&dispatch.PathCommand{DB: contacts, CooldownPeriod: cfg.GetCommandCooldown()})
	dispatcher.Register(&dispatch.MultiTestCommand{Correlator: correlator, CooldownPeriod: cfg.GetCommandCooldown()})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := nodeSerial.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// subscribe to serial lines and feed the RF buffer and contact DB
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := nodeSerial.Subscribe()
		defer nodeSerial.Unsubscribe(id)
		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if serialmux.ClassifyLine(line) == serialmux.EventTypeRFFrame {
					stats.AddFrame(len(line))
					obs, err := serialmux.HandleRFFrame(buf, line)
					if err != nil || obs.Hash == packet.UnknownHash {
						stats.AddUndecodable()
					}
					if err != nil {
						log.Printf("error handling RF frame: %v", err)
					} else if obs.PayloadType == packet.PayloadTxtMsg.String() || obs.PayloadType == packet.PayloadGrpTxt.String() {
						stats.AddTextMessage()
					}
					continue
				}
				if err := serialmux.HandleEvent(contacts, buf, line); err != nil {
					log.Printf("error handling event: %v", err)
				}
			case <-ctx.Done():
				log.Printf("subscribe routine terminated")
				return
			}
		}
	}()

	// command dispatcher gets its own subscription so long-running
	// listening windows don't stall the RF feed
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx, nodeSerial); err != nil && err != context.Canceled {
			log.Printf("dispatcher terminated: %v", err)
		}
	}()

	stats.StartPeriodicLogging(time.Minute, ctx.Done())

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(nodeSerial, contacts, buf, correlator).ServeMux()

		nodeSerial.AttachAdminRoutes(mux)
		contacts.AttachAdminRoutes(mux)
		monitor.NewWebServer(buf, stats).RegisterRoutes(mux)

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

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
