package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fisaks/weatherstation/internal/catalog"
	"github.com/fisaks/weatherstation/internal/lcd"
	"github.com/fisaks/weatherstation/internal/messaging"
)

func formatReading(payload []byte) (string, error) {
	var msg messaging.ReadingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", err
	}
	return fmt.Sprintf("%-12s %10.2f %-5s source=%s at=%s",
		msg.Kind, msg.Value, msg.Unit, msg.Source, msg.At.Local().Format(time.TimeOnly)), nil
}

func formatDisplayState(payload []byte) (string, error) {
	var msg messaging.DisplayStateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", err
	}
	return "\n" + strings.TrimSuffix(lcd.Frame(msg.Rows), "\n"), nil
}

func formatCatalog(payload []byte) (string, error) {
	var msg catalog.StationCatalogMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "station=%s devices=%d", msg.Station, len(msg.Devices))
	for _, d := range msg.Devices {
		fmt.Fprintf(&b, "\n  %-6s %-16s fw=%s pos=%s", d.UID, d.Name, d.Firmware, d.Position)
	}
	return b.String(), nil
}

func format(topic string, payload []byte) (string, error) {
	switch {
	case strings.Contains(topic, "/reading/"):
		return formatReading(payload)
	case strings.HasSuffix(topic, "/display/state"):
		return formatDisplayState(payload)
	case strings.HasSuffix(topic, "/catalog"):
		return formatCatalog(payload)
	}
	return string(payload), nil
}

func main() {
	var broker, topic string
	flag.StringVar(&broker, "broker", "tcp://localhost:1883", "MQTT broker address")
	flag.StringVar(&topic, "topic", "weather/#", "MQTT topic filter")
	flag.Parse()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("station-monitor-%d", time.Now().UnixNano()))
	opts.SetDefaultPublishHandler(func(client mqtt.Client, msg mqtt.Message) {
		line, err := format(msg.Topic(), msg.Payload())
		if err != nil {
			fmt.Printf("%s %s (error: %v)\n", msg.Topic(), string(msg.Payload()), err)
			return
		}
		fmt.Printf("%s %s\n", msg.Topic(), line)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal(token.Error())
	}
	fmt.Printf("Connected to MQTT broker %s, subscribing to %s...\n", broker, topic)

	if token := client.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
		log.Fatal(token.Error())
	}

	// Wait for interrupt
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()
	<-ctx.Done()
	client.Disconnect(200)
}
