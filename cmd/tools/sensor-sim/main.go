package main

import (
	"flag"
	"log"
	"os"

	"github.com/fisaks/weatherstation/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("STATION_CONFIG_PATH"), "station config with a modbus section")
	listen := flag.String("listen", ":8081", "REST control address")
	drift := flag.Duration("drift", 0, "wander values on this interval (0 disables)")
	step := flag.Float64("step", 0.5, "drift step in percent")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("STATION_CONFIG_PATH not set and -config missing")
	}
	cfg, err := config.LoadStationConfig(*configPath)
	if err != nil {
		log.Fatalf("Station config error: %v", err)
	}
	if cfg.Modbus == nil {
		log.Fatal("config has no modbus section")
	}

	bank, err := startBank(cfg.Modbus)
	if err != nil {
		log.Fatal(err)
	}
	defer bank.close()

	sensor := NewSensor(cfg.Modbus, bank)
	if *drift > 0 {
		go sensor.Drift(*drift, *step)
	}
	for _, st := range sensor.State() {
		log.Printf("  - %s at register %d = %v %s", st.Kind, st.Address, st.Value, st.Unit)
	}
	if err := StartRestAPI(*listen, sensor); err != nil {
		log.Fatalf("REST API: %v", err)
	}
}
