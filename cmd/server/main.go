package main

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"stockfeed/internal/chart"
	"stockfeed/internal/config"
	"stockfeed/internal/derive"
	"stockfeed/internal/directory"
	"stockfeed/internal/fetch"
	"stockfeed/internal/logging"
	"stockfeed/internal/proxypool"
	"stockfeed/internal/tencent"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logging.L().Fatalf("config: %v", err)
	}
	if err := logging.Setup(cfg.Logging); err != nil {
		logging.L().Fatalf("logging: %v", err)
	}
	log := logging.Component("server")

	if cfg.Proxy.Username == "" {
		log.Warn("proxy username not set; upstream chart fetches will likely be rejected")
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

	tencentOpts := []tencent.Option{
		tencent.WithTimeout(time.Duration(cfg.Tencent.TimeoutSec) * time.Second),
	}
	if cfg.Tencent.QuoteURL != "" {
		tencentOpts = append(tencentOpts, tencent.WithQuoteURL(cfg.Tencent.QuoteURL))
	}
	if cfg.Tencent.MinuteURL != "" {
		tencentOpts = append(tencentOpts, tencent.WithMinuteURL(cfg.Tencent.MinuteURL))
	}

	dir, err := directory.Open(cfg.Directory.Path)
	if err != nil {
		log.Fatalf("directory: %v", err)
	}
	defer dir.Close()

	app := &app{
		deriver:   derive.New(charts),
		charts:    charts,
		secondary: tencent.New(tencentOpts...),
		dir:       dir,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/search", app.handleSearch)
	mux.HandleFunc("/api/kline", app.handleKline)
	mux.HandleFunc("/api/summary", app.handleSummary)
	mux.HandleFunc("/api/quote", app.handleQuote)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(requestLog(mux)))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.RequestTimeoutSec+10) * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Infof("listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		// Basic CORS for browser usage; adjust as needed.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses response when client supports gzip.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
		next.ServeHTTP(gw, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Component("server").Errorf("panic: %v", rec)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLog tags each request with an id and logs its outcome.
func requestLog(next http.Handler) http.Handler {
	log := logging.Component("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(map[string]any{
			"request_id":  id,
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
		}).Debug("request")
	})
}
