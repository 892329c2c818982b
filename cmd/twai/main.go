package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gotwai "github.com/samsamfire/gotwai"
	"github.com/samsamfire/gotwai/pkg/can"
	_ "github.com/samsamfire/gotwai/pkg/can/socketcan"
	_ "github.com/samsamfire/gotwai/pkg/can/virtual"
	"github.com/samsamfire/gotwai/pkg/config"
	"github.com/samsamfire/gotwai/pkg/driver"
	"github.com/samsamfire/gotwai/pkg/twai"
	"github.com/samsamfire/gotwai/pkg/twai/sim"
	log "github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var DEFAULT_CAN_INTERFACE = "virtual"
var DEFAULT_CAN_CHANNEL = "vcan0"
var DEFAULT_METRICS_ADDR = ":9102"

func initLogger(level string) {
	log.SetFormatter(&prefixed.TextFormatter{
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	})
	log.SetOutput(os.Stdout)
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown log level %v, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func startMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("metrics listening on %v", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server : %v", err)
		}
	}()
	return srv
}

// Simulated controller bridged to a CAN bus, received frames are logged and
// a frame is optionally transmitted periodically.
func main() {
	canInterface := flag.String("i", DEFAULT_CAN_INTERFACE, "can interface type e.g. socketcan,virtual")
	channel := flag.String("c", DEFAULT_CAN_CHANNEL, "can channel e.g. can0,vcan0")
	configPath := flag.String("f", "", "ini configuration file, defaults are used if empty")
	metricsAddr := flag.String("m", DEFAULT_METRICS_ADDR, "metrics listen address, empty to disable")
	txId := flag.Uint("id", 0x123, "identifier of the periodic frame")
	txPeriod := flag.Duration("p", 0, "period of the transmitted frame, 0 to disable")
	logLevel := flag.String("v", "info", "log level")
	flag.Parse()
	initLogger(*logLevel)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading %v : %v", *configPath, err)
		}
	}

	bus, err := can.NewBus(*canInterface, *channel)
	if err != nil {
		log.Fatalf("creating bus : %v", err)
	}
	if err = bus.Connect(); err != nil {
		log.Fatalf("connecting to %v : %v", *channel, err)
	}
	defer bus.Disconnect()
	bm, err := gotwai.NewBusManager(bus)
	if err != nil {
		log.Fatal(err)
	}

	irq := make(chan struct{}, 1)
	dev := sim.NewDevice(*channel, sim.WithInterruptHandler(func() {
		select {
		case irq <- struct{}{}:
		default:
		}
	}))
	if err = dev.Attach(bm); err != nil {
		log.Fatal(err)
	}
	ctrl, err := twai.NewController(dev, cfg.Twai)
	if err != nil {
		log.Fatal(err)
	}
	if err = cfg.Controller.Apply(ctrl); err != nil {
		log.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if *metricsAddr != "" {
		srv := startMetrics(*metricsAddr, reg)
		defer srv.Close()
	}

	cfg.Driver.Alerts |= driver.AlertBusOff | driver.AlertBusRecovered
	drv, err := driver.New(ctrl, irq, cfg.Driver,
		driver.WithName(*channel),
		driver.WithRegisterer(reg),
		driver.WithPeripheralReset(dev.PeripheralReset),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer drv.Close()
	if err = drv.Start(); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for {
			frame, err := drv.Receive(ctx)
			if err != nil {
				return
			}
			log.Infof("rx %v", frame)
		}
	}()

	go func() {
		for {
			alerts, err := drv.ReadAlerts(ctx)
			if err != nil {
				return
			}
			log.Infof("alerts %v | %+v", alerts, drv.Status())
			// Recover and restart automatically
			if alerts.Has(driver.AlertBusOff) {
				if err := drv.InitiateRecovery(); err != nil {
					log.Warnf("initiating recovery : %v", err)
				}
			}
			if alerts.Has(driver.AlertBusRecovered) {
				if err := drv.Start(); err != nil {
					log.Warnf("restarting : %v", err)
				}
			}
		}
	}()

	if *txPeriod > 0 {
		ticker := time.NewTicker(*txPeriod)
		defer ticker.Stop()
		var counter uint8
		for {
			select {
			case <-ctx.Done():
				log.Info("exiting")
				return
			case <-ticker.C:
				frame := twai.Frame{ID: uint32(*txId), Extended: *txId > twai.StdIdentMask, DLC: 1, Data: [8]byte{counter}}
				counter++
				txCtx, cancel := context.WithTimeout(ctx, *txPeriod)
				if err := drv.Transmit(txCtx, frame); err != nil {
					log.Warnf("tx %v : %v", frame, err)
				}
				cancel()
			}
		}
	}
	<-ctx.Done()
	log.Info("exiting")
}
