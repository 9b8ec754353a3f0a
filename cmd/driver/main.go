// Command driver interprets a JSON command-list test harness. It is a
// boundary-only convenience tool; it exists so the broker and client
// packages can be exercised end to end without writing a bespoke Go
// program per scenario.
//
// Usage: driver -file scenario.json
//
// scenario.json shape:
//
//	{
//	  "middlewareType": "client",
//	  "commands": [
//	    ["rp", "temperature", 1, 3],
//	    ["p", "temperature", {"celsius": 21.5}],
//	    ["n", "temperature"],
//	    ["w", 2],
//	    ["sb"]
//	  ]
//	}
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rounaksalim95/pubsub-broker/internal/broker"
	"github.com/rounaksalim95/pubsub-broker/internal/config"
	"github.com/rounaksalim95/pubsub-broker/internal/logging"
	"github.com/rounaksalim95/pubsub-broker/internal/metrics"
	"github.com/rounaksalim95/pubsub-broker/internal/registry"
	"github.com/rounaksalim95/pubsub-broker/internal/transport"
	"github.com/rounaksalim95/pubsub-broker/pkg/pubsubclient"
)

type scenario struct {
	MiddlewareType string          `json:"middlewareType"`
	Commands       [][]interface{} `json:"commands"`
}

func main() {
	var file string
	flag.StringVar(&file, "file", "", "path to a scenario JSON file")
	flag.Parse()

	if file == "" {
		fmt.Fprintln(os.Stderr, "usage: driver -file scenario.json")
		os.Exit(-1)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read scenario: %v\n", err)
		os.Exit(-1)
	}

	var s scenario
	if err := json.Unmarshal(data, &s); err != nil {
		fmt.Fprintf(os.Stderr, "parse scenario: %v\n", err)
		os.Exit(-1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(-1)
	}

	component := s.MiddlewareType
	if component == "" {
		component = "driver"
	}
	logger, err := logging.New(cfg.Logging, component)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(-1)
	}
	defer logger.Sync() // nolint:errcheck

	switch s.MiddlewareType {
	case "broker":
		runBroker(cfg, logger)
	case "client":
		runClient(cfg, logger, s.Commands)
	default:
		fmt.Fprintf(os.Stderr, "unknown middlewareType %q\n", s.MiddlewareType)
		os.Exit(-1)
	}
}

func runBroker(cfg config.Config, logger *zap.Logger) {
	reg := registry.New()
	metricsRegistry := metrics.NewRegistry()

	tr, err := transport.NewBrokerTransport(cfg.NATS, logger)
	if err != nil {
		logger.Fatal("connect to nats", zap.Error(err))
	}

	dispatcher := broker.NewDispatcher(reg, tr, metricsRegistry, logger)
	ticker := broker.NewTicker(reg, tr, metricsRegistry, logger, cfg.Broker.HeartbeatInterval)
	b := broker.New(tr, dispatcher, ticker, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		logger.Error("broker run error", zap.Error(err))
	}
}

func runClient(cfg config.Config, logger *zap.Logger, commands [][]interface{}) {
	client, err := pubsubclient.New(cfg.NATS, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client init: %v\n", err)
		os.Exit(-1)
	}
	defer client.Close()

	for _, cmd := range commands {
		if len(cmd) == 0 {
			continue
		}
		verb, _ := cmd[0].(string)
		if err := runCommand(client, verb, cmd[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "command %v failed: %v\n", cmd, err)
			os.Exit(-1)
		}
	}
}

func runCommand(client *pubsubclient.Client, verb string, args []interface{}) error {
	switch verb {
	case "rp":
		topic := stringArg(args, 0, "")
		ownStr := intArg(args, 1, 0)
		history := intArg(args, 2, 0)
		ok, err := client.RegisterPub(topic, ownStr, history)
		if err != nil {
			return err
		}
		fmt.Printf("rp %s -> %v\n", topic, ok)
		return nil

	case "rs":
		topic := stringArg(args, 0, "")
		history := intArg(args, 1, 0)
		snapshot, ok, err := client.RegisterSub(topic, history)
		if err != nil {
			return err
		}
		fmt.Printf("rs %s -> %v history=%v\n", topic, ok, snapshot)
		return nil

	case "p":
		topic := stringArg(args, 0, "")
		var content interface{}
		if len(args) > 1 {
			content = args[1]
		}
		ok, err := client.Publish(topic, content)
		if err != nil {
			return err
		}
		fmt.Printf("p %s -> %v\n", topic, ok)
		return nil

	case "n":
		topic := stringArg(args, 0, "")
		content, ok, err := client.Notify(topic, 0)
		if err != nil {
			return err
		}
		fmt.Printf("n %s -> %v %s\n", topic, ok, content)
		return nil

	case "w":
		seconds := numberArg(args, 0, 0)
		_, _, err := client.Notify("", int(seconds*1000))
		return err

	case "sb":
		ok, err := client.ShutdownBroker()
		if err != nil {
			return err
		}
		fmt.Printf("sb -> %v\n", ok)
		return nil

	default:
		return fmt.Errorf("unknown command %q", verb)
	}
}

func stringArg(args []interface{}, idx int, def string) string {
	if idx >= len(args) {
		return def
	}
	if s, ok := args[idx].(string); ok {
		return s
	}
	return def
}

func intArg(args []interface{}, idx int, def int) int {
	return int(numberArg(args, idx, float64(def)))
}

func numberArg(args []interface{}, idx int, def float64) float64 {
	if idx >= len(args) {
		return def
	}
	if n, ok := args[idx].(float64); ok {
		return n
	}
	return def
}
