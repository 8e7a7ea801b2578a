package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fisaks/weatherstation/internal/weather"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  lcdctl write     --station STATION --row ROW [--col COL] --text TEXT
  lcdctl clear     --station STATION
  lcdctl backlight --station STATION --on=true|false

Required flags:
  --station  (string)   Name of the station
  --row      (int)      Display row 0..3 (write)
  --text     (string)   Text to write (write)
Optional flags:
  --col      (int)      Start column (write, default: 0)
  --on       (bool)     Backlight state (backlight, default: true)
  --root     (string)   Topic root (default: weather)
  --broker   (string)   MQTT broker address (default: tcp://localhost:1883)

`)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Missing command (e.g. write)\n")
		usage()
		os.Exit(2)
	}

	action := os.Args[1]
	switch action {
	case weather.ActionWrite, weather.ActionClear, weather.ActionBacklight:
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", action)
		usage()
		os.Exit(2)
	}

	fs := flag.NewFlagSet(action, flag.ExitOnError)
	station := fs.String("station", "", "Station name (required)")
	row := fs.Int("row", -1, "Display row 0..3")
	col := fs.Int("col", 0, "Start column")
	text := fs.String("text", "", "Text to write")
	on := fs.Bool("on", true, "Backlight on")
	root := fs.String("root", "weather", "Topic root")
	broker := fs.String("broker", "tcp://localhost:1883", "MQTT broker address")
	fs.Usage = usage

	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	missing := false
	if *station == "" {
		fmt.Fprintf(os.Stderr, "--station is required\n")
		missing = true
	}
	if action == weather.ActionWrite {
		if *row < 0 || *row > 3 {
			fmt.Fprintf(os.Stderr, "--row is required and must be 0..3\n")
			missing = true
		}
		if *col < 0 {
			fmt.Fprintf(os.Stderr, "--col must be >= 0\n")
			missing = true
		}
	}
	if missing {
		usage()
		os.Exit(2)
	}

	cmd := weather.IncomingDisplayCommand{
		ID:     fmt.Sprintf("lcdctl-%d", time.Now().UnixNano()),
		Action: action,
	}
	switch action {
	case weather.ActionWrite:
		cmd.Row, cmd.Col, cmd.Text = *row, *col, *text
	case weather.ActionBacklight:
		cmd.On = *on
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID(fmt.Sprintf("lcdctl-%d", time.Now().UnixNano()))
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Fprintf(os.Stderr, "MQTT connect error: %v\n", token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	topic := fmt.Sprintf("%s/%s/display/cmd", *root, *station)
	payload, err := json.Marshal(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "JSON marshal error: %v\n", err)
		os.Exit(1)
	}
	token := client.Publish(topic, 1, false, payload)
	token.Wait()
	if token.Error() != nil {
		fmt.Fprintf(os.Stderr, "MQTT publish error: %v\n", token.Error())
		os.Exit(1)
	}

	fmt.Printf("Published %s to %s\n", action, topic)
}
