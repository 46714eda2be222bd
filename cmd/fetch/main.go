package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"stockfeed/internal/chart"
	"stockfeed/internal/config"
	"stockfeed/internal/derive"
	"stockfeed/internal/fetch"
	"stockfeed/internal/logging"
	"stockfeed/internal/proxypool"
	"stockfeed/internal/tencent"
)

// One-shot fetch CLI: prints summary, kline or secondary-quote JSON for a
// symbol. Handy for smoke-testing proxy pools without running the server.
func main() {
	var symbol string
	var op string
	var tf string
	var rng string
	var configPath string

	flag.StringVar(&symbol, "symbol", "0700.HK", "instrument symbol")
	flag.StringVar(&op, "op", "summary", "operation: summary | kline | quote")
	flag.StringVar(&tf, "tf", "1d", "kline interval")
	flag.StringVar(&rng, "range", "3mo", "kline range")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	endpoints := make([]proxypool.Endpoint, 0, len(cfg.Proxy.Pools))
	for _, p := range cfg.Proxy.Pools {
		endpoints = append(endpoints, proxypool.Endpoint{Host: p.Host, Ports: p.Ports})
	}
	pool := proxypool.New(proxypool.Config{
		Credentials:      proxypool.Credentials{Username: cfg.Proxy.Username, EncodedSecret: cfg.Proxy.EncodedSecret},
		Endpoints:        endpoints,
		RememberLastGood: cfg.Proxy.RememberLastGood,
		FailureThreshold: cfg.Proxy.FailureThreshold,
	})
	fetcher := fetch.New(fetch.Config{
		Pool:                 pool,
		Timeout:              time.Duration(cfg.Chart.TimeoutSec) * time.Second,
		MaxAttemptsPerPort:   cfg.Chart.MaxAttemptsPerPort,
		SleepBetweenPorts:    time.Duration(cfg.Chart.SleepBetweenPortsMS) * time.Millisecond,
		BackoffOnError:       time.Duration(cfg.Chart.BackoffOnErrorMS) * time.Millisecond,
		UserAgent:            cfg.Chart.UserAgent,
		Accept:               cfg.Chart.Accept,
		CacheTTL:             time.Duration(cfg.Chart.CacheTTLSeconds) * time.Second,
		MaxRequestsPerMinute: cfg.Chart.MaxRequestsPerMinute,
	})
	charts := chart.New(fetcher, cfg.Chart.BaseURL)
	deriver := derive.New(charts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var out any
	switch op {
	case "summary":
		quote, err := deriver.LatestChange(ctx, symbol)
		if err != nil {
			fail(err)
		}
		highs, err := deriver.RollingHighs(ctx, symbol)
		if err != nil {
			fail(err)
		}
		out = map[string]any{"symbol": symbol, "quote": quote, "highs": highs}
	case "kline":
		p, err := charts.Fetch(ctx, symbol, tf, rng)
		if err != nil {
			fail(err)
		}
		bars, err := p.Bars()
		if err != nil {
			fail(err)
		}
		points := make([][6]float64, 0, len(bars))
		for _, b := range bars {
			points = append(points, b.Point())
		}
		out = map[string]any{"symbol": symbol, "tf": tf, "range": rng, "bars": points}
	case "quote":
		quote, err := tencent.New(tencent.WithTimeout(time.Duration(cfg.Tencent.TimeoutSec) * time.Second)).Quote(ctx, symbol)
		if err != nil {
			fail(err)
		}
		out = map[string]any{"symbol": symbol, "quote": quote}
	default:
		fmt.Fprintf(os.Stderr, "unknown op %q\n", op)
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
