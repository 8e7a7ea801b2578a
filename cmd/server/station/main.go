package main

// cSpell:ignore mqtt brickd tinkerforge modbus
import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fisaks/weatherstation/internal/catalog"
	"github.com/fisaks/weatherstation/internal/config"
	"github.com/fisaks/weatherstation/internal/console"
	"github.com/fisaks/weatherstation/internal/history"
	"github.com/fisaks/weatherstation/internal/httpapi"
	"github.com/fisaks/weatherstation/internal/lcd"
	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/fisaks/weatherstation/internal/messaging"
	"github.com/fisaks/weatherstation/internal/modbus"
	"github.com/fisaks/weatherstation/internal/panel"
	"github.com/fisaks/weatherstation/internal/sink"
	"github.com/fisaks/weatherstation/internal/station"
	tf "github.com/fisaks/weatherstation/internal/tinkerforge"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	mqttURL := getenv("MQTT_URL", "tcp://localhost:1883")
	path := getenv("STATION_CONFIG_PATH", "/etc/weatherstation/station-config.json")

	logging.Init()
	cfg, err := config.LoadStationConfig(path)
	if err != nil {
		logging.Fatal("Station config error", "error", err)
	}
	if name := os.Getenv("STATION_NAME"); name != "" {
		cfg.Station = name
	}
	logging.Info("Loaded config",
		"station", cfg.Station,
		"brickd", cfg.Brickd.Addr(),
		"callbackPeriodMs", cfg.CallbackPeriodMs,
	)

	// Graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		s := <-sigCh
		logging.Info("Shutting down", "signal", s)
		cancel()
	}()

	if err := run(ctx, cfg, mqttURL); err != nil {
		logging.Fatal("Station stopped", "error", err)
	}
	logging.Info("bye")
}

func run(ctx context.Context, cfg *config.StationConfig, mqttURL string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry := station.NewRegistry()
	mirror := lcd.NewMirror(registry.Display())
	if cfg.Panel != nil {
		p, err := panel.Open(*cfg.Panel)
		if err != nil {
			logging.Warn("Local panel unavailable", "driver", cfg.Panel.Driver, "error", err)
		} else {
			mirror.Attach(p)
			defer p.Close()
		}
	}
	if cfg.Console {
		go console.New(mirror, os.Stdout, true).Run(ctx)
	}

	router := station.NewRouter(mirror, station.RouterConfig{QueueSize: cfg.QueueSize})
	router.SetBacklightControl(registry.SetBacklight)

	broker := messaging.NewStationBroker(messaging.BrokerConfig{
		BrokerURL:        mqttURL,
		ClientName:       cfg.Station,
		TopicPrefix:      messaging.JoinTopic(cfg.MQTT.TopicRoot, cfg.Station),
		ConnectTimeout:   cfg.MQTT.ConnectTimeout(),
		PublishTimeout:   cfg.MQTT.PublishTimeout(),
		SubscribeTimeout: cfg.MQTT.PublishTimeout(),
	}, cfg.Heartbeat())
	router.AddSink(broker)
	router.SetStatePublisher(broker)

	stationCatalog := catalog.NewStationCatalog(cfg, registry, broker)
	broker.AddOnConnectPublisher("catalog", stationCatalog.OnConnectPublish)
	registry.OnChange(func() { go stationCatalog.Publish(ctx) })
	if err := broker.StartDisplaySubscriber(ctx, router); err != nil {
		logging.Warn("Display command subscription failed", "error", err)
	}
	go func() {
		// blocks until the first connect because of connect retry
		if err := broker.Connect(ctx); err != nil && ctx.Err() == nil {
			logging.Error("MQTT connect failed", "error", err)
		}
	}()
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer closeCancel()
		_ = broker.Close(closeCtx)
	}()

	if k := cfg.Kafka; k != nil {
		kafkaSink, err := sink.NewKafka(sink.KafkaConfig{
			Brokers:      k.Brokers,
			Topic:        k.Topic,
			Station:      cfg.Station,
			BatchTimeout: k.BatchTime(),
			WriteTimeout: k.WriteTimeout(),
		})
		if err != nil {
			return err
		}
		router.AddSink(kafkaSink)
		defer kafkaSink.Close()
	}

	var readingHistory httpapi.ReadingHistory
	if h := cfg.History; h != nil {
		store, err := history.Open(h.Path, h.Keep)
		if err != nil {
			return err
		}
		router.AddSink(store)
		readingHistory = store
		defer store.Close()
	}

	ipcon := tf.NewIPConnection(tf.Options{
		Addr:           cfg.Brickd.Addr(),
		RequestTimeout: cfg.Brickd.RequestTimeout(),
		AutoReconnect:  cfg.Brickd.Reconnect(),
		Reconnect:      cfg.Retry.Policy(),
	})
	defer ipcon.Close()
	ws := station.New(ipcon, registry, router, station.Options{
		CallbackPeriod: cfg.CallbackPeriod(),
		Retry:          cfg.Retry.Policy(),
		OnLCDReady:     router.Redraw,
	})

	if cfg.HTTP != nil {
		api := httpapi.New(httpapi.Options{
			Mirror:   mirror,
			Commands: router,
			History:  readingHistory,
			Ready:    ws.Ready,
		})
		router.AddSink(api)
		go func() {
			if err := api.Serve(ctx, cfg.HTTP.Listen); err != nil {
				logging.Error("HTTP API stopped", "error", err)
			}
		}()
	}

	go func() {
		if err := router.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Error("Router stopped", "error", err)
		}
	}()

	if m := cfg.Modbus; m != nil {
		src, err := modbus.NewSource(*m, router, cfg.Heartbeat())
		if err != nil {
			return err
		}
		go src.Run(ctx)
	}

	err := ws.Run(ctx)
	cancel()
	// Give workers a moment to exit cleanly (they honor ctx)
	time.Sleep(200 * time.Millisecond)
	return err
}
