package main

// cSpell:ignore brickd tfsim
import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fisaks/weatherstation/internal/lcd"
	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/fisaks/weatherstation/internal/tinkerforge/tfsim"
)

// walk moves v by at most step, staying inside [lo, hi].
func walk(v, step, lo, hi int64) int64 {
	v += rand.Int63n(2*step+1) - step
	return max(lo, min(hi, v))
}

func main() {
	listen := flag.String("listen", ":4223", "address to accept brickd clients on")
	interval := flag.Duration("interval", 2*time.Second, "how often bricklets report new values")
	showLCD := flag.Bool("show-lcd", true, "print the simulated LCD when it changes")
	flag.Parse()

	logging.Init()
	srv, err := tfsim.Start(*listen)
	if err != nil {
		logging.Fatal("brickd simulator start failed", "error", err)
	}
	defer srv.Close()
	logging.Info("brickd simulator listening", "addr", srv.Addr(),
		"lcd", tfsim.LCDUID, "ambientLight", tfsim.AmbientLightUID,
		"humidity", tfsim.HumidityUID, "barometer", tfsim.BarometerUID)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	illuminance, humidity, pressure, chip := int64(1234), int64(452), int64(1013250), int64(2150)
	var last []string
	t := time.NewTicker(*interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("bye")
			return
		case <-t.C:
			illuminance = walk(illuminance, 50, 0, 9999)
			humidity = walk(humidity, 5, 0, 1000)
			pressure = walk(pressure, 250, 10000, 1200000)
			chip = walk(chip, 10, -4000, 8500)

			srv.SetChipTemperature(int16(chip))
			srv.EmitIlluminance(uint16(illuminance))
			srv.EmitHumidity(uint16(humidity))
			srv.EmitAirPressure(int32(pressure))
		}
		if !*showLCD {
			continue
		}
		rows := make([]string, lcd.Rows)
		changed := last == nil
		for r := range rows {
			rows[r] = srv.Line(r)
			if !changed && rows[r] != last[r] {
				changed = true
			}
		}
		if changed {
			fmt.Print(lcd.Frame(rows))
			last = rows
		}
	}
}
