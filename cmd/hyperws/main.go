// Command hyperws runs a demo HTTP/1.1 server until interrupted.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"dqx0.com/go/hyperws/httpx"
	"dqx0.com/go/hyperws/internal/config"
	"dqx0.com/go/hyperws/internal/obs"
)

const welcome = `<!DOCTYPE html>
<html>
<head><title>HyperWS</title></head>
<body><h1>Welcome to HyperWS</h1><p>Request %s served by %s.</p></body>
</html>
`

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		addr       = flag.String("addr", "", "listen address (overrides config)")
		debug      = flag.Bool("debug", false, "enable debug logging")
		jsonLogs   = flag.Bool("json", false, "log as JSON")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if flag.CommandLine.Changed("debug") {
		cfg.Debug = *debug
	}
	if flag.CommandLine.Changed("json") {
		cfg.JSONLogs = *jsonLogs
	}

	log := newLogger(cfg)
	srv := &httpx.Server{
		Handler: httpx.HandlerFunc(serve),
		Logger:  obs.NewSlogLogger(log),
		ErrorHandler: func(c *httpx.Context, err error) bool {
			if c != nil {
				log.Error("request failed", "id", c.Request.ID, "path", c.Request.Path, "err", err)
			}
			return false
		},
		StateHandler: func(from, to httpx.State) {
			log.Debug("server state changed", "from", from, "to", to)
		},
	}
	cfg.Apply(srv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.JSONLogs {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

func serve(c *httpx.Context) error {
	req, resp := c.Request, c.Response
	resp.Header().Set("X-Powered-By", "HyperWS")
	switch req.Path {
	case "/":
		resp.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, err := fmt.Fprintf(resp, welcome, req.ID, httpx.Version)
		return err
	case "/echo":
		resp.Header().Set("Content-Type", "application/octet-stream")
		_, err := io.Copy(resp, req.Body)
		return err
	default:
		_ = resp.SetStatus(404)
		resp.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, err := resp.WriteString("not found\n")
		return err
	}
}
