package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"insight-bridge/internal/adapter"
	"insight-bridge/internal/config"
	"insight-bridge/internal/engine"
	"insight-bridge/internal/models"
	"insight-bridge/internal/pixel"
	"insight-bridge/internal/server"
)

const serveUsage = `Usage:
  insight-bridge serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	vendorClient, err := pixel.New(cfg.Vendor.BaseURL, cfg.Vendor.APIKey, cfg.Vendor.Headers, newHTTPClient(defaultHTTPTimeout))
	if err != nil {
		return fmt.Errorf("initialise vendor client: %w", err)
	}

	engines, err := engine.NewTable(cfg.Engines.Aliases)
	if err != nil {
		return err
	}

	core, err := adapter.New(vendorClient, engines, cfg.Engines.DefaultModel)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, coreService{core})
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

// coreService adapts *adapter.Adapter to the server.Completer interface;
// only the stream return type needs the indirection.
type coreService struct {
	*adapter.Adapter
}

func (s coreService) StreamChatCompletion(ctx context.Context, req models.ChatRequest) (server.Streamer, error) {
	stream, err := s.Adapter.StreamChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
