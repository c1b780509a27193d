// Command lightshow starts the Choir Lightshow server.
//
// It supports three commands:
//  1. "serve" (default): runs the HTTP server exposing the websocket, a read-only REST API,
//     metrics and an /mcp endpoint, and advertises itself on the local network
//  2. "mcp": runs an MCP stdio server proxying a running server's REST API
//  3. "version": prints the version
//
// Flags override the configuration file and environment for host/port, debug logging,
// discovery and optional ngrok tunneling for access from outside the local network.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tuchoir/lightshow/api"
	"github.com/tuchoir/lightshow/config"
	"github.com/tuchoir/lightshow/discovery"
	"github.com/tuchoir/lightshow/lightshow/service"
	"github.com/tuchoir/lightshow/lightshow/session"
	"github.com/tuchoir/lightshow/metrics"
	pkglog "github.com/tuchoir/lightshow/pkg/log"
	"github.com/tuchoir/lightshow/transport/mcp"
	"github.com/tuchoir/lightshow/transport/websocket"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Choir Lightshow Server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "lightshow: %v\n", err)
		os.Exit(1)
	}
}

// newCommand builds the command tree. Root flags are inherited by
// subcommands.
func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "lightshow",
		Usage:   "synchronized screen-color lightshows for choirs and audiences",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a YAML config file (default: lightshow.yaml in . or ./config)",
				Sources: cli.EnvVars("LIGHTSHOW_CONFIG"),
			},
			&cli.StringFlag{Name: "host", Usage: "HTTP server host"},
			&cli.IntFlag{Name: "port", Usage: "HTTP server port"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
			&cli.BoolFlag{Name: "no-discovery", Usage: "do not advertise on the local network"},
			&cli.BoolFlag{Name: "ngrok", Usage: "enable ngrok tunnel"},
			&cli.StringFlag{Name: "ngrok-auth", Usage: "ngrok auth token (or use NGROK_AUTHTOKEN env var)"},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "custom ngrok domain (optional)"},
		},
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the lightshow server (default)",
				Action: serveAction,
			},
			{
				Name:  "mcp",
				Usage: "run an MCP stdio server against a running lightshow server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "api-url",
						Usage:   "base URL of the lightshow REST API",
						Value:   "http://localhost:3000",
						Sources: cli.EnvVars("LIGHTSHOW_API_URL"),
					},
				},
				Action: mcpAction,
			},
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Fprintf(cmd.Root().Writer, "%s %s\n", AppName, Version)
					return nil
				},
			},
		},
	}
}

// loadConfig reads .env, the config file and the environment, then applies
// the flags that were set explicitly.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = int(cmd.Int("port"))
	}
	if cmd.Bool("debug") {
		cfg.Log.Level = "debug"
		cfg.Log.Pretty = true
	}
	if cmd.Bool("no-discovery") {
		cfg.Discovery.Enabled = false
	}
	if cmd.Bool("ngrok") {
		cfg.Ngrok.Enabled = true
	}
	if cmd.IsSet("ngrok-auth") {
		cfg.Ngrok.AuthToken = cmd.String("ngrok-auth")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.Ngrok.Domain = cmd.String("ngrok-domain")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "lightshow"})
	return runServer(ctx, cfg)
}

func mcpAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "lightshow-mcp"})
	return runStdioMCP(ctx, cmd.String("api-url"))
}

// app is the wired server before it starts serving.
type app struct {
	cfg      *config.Config
	service  service.SessionService
	hub      *websocket.Hub
	handler  http.Handler
	registry *prometheus.Registry
	// tunnel, when set, serves handler on a second listener until ctx ends.
	tunnel func(ctx context.Context, handler http.Handler)
}

// newApp wires the registry, service, hub and HTTP surface. apiURL is where
// the /mcp tools reach this server's REST API.
func newApp(cfg *config.Config, apiURL string) *app {
	registry := session.NewRegistry(session.WithHostOnlyClose(cfg.Sessions.HostOnlyClose))
	sessionService := service.NewSessionService(registry, service.Options{
		MaxNameLength: cfg.Sessions.MaxNameLength,
	})

	promRegistry := prometheus.NewRegistry()
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(promRegistry)
	}

	hub := websocket.NewHub(sessionService, websocket.Options{
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingInterval:   cfg.WebSocket.PingInterval,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		Metrics:        m,
	})

	mcpClient := mcp.NewClient(apiURL, Version)

	opts := []api.Option{
		api.WithVersion(Version),
		api.WithMCPHandler(mcpClient.HTTPHandler()),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithMetricsHandler(cfg.Metrics.Path,
			promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{Registry: promRegistry})))
	}

	a := &app{
		cfg:      cfg,
		service:  sessionService,
		hub:      hub,
		handler:  api.NewServer(sessionService, hub, opts...),
		registry: promRegistry,
	}
	if cfg.Ngrok.Enabled {
		a.tunnel = func(ctx context.Context, handler http.Handler) {
			runNgrok(ctx, cfg.Ngrok, handler)
		}
	}
	return a
}

// apiBaseURL is the URL this process reaches its own listener at. An
// unspecified bind address is reached over loopback.
func apiBaseURL(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return "http://" + addr.String()
	}
	host := "127.0.0.1"
	if tcp.IP != nil && !tcp.IP.IsUnspecified() {
		host = tcp.IP.String()
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(tcp.Port))
}

// runServer listens on the configured address and serves until ctx is
// cancelled.
func runServer(ctx context.Context, cfg *config.Config) error {
	addr := cfg.Server.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return newApp(cfg, apiBaseURL(listener.Addr())).serve(ctx, listener)
}

// serve runs the HTTP server, discovery and the optional tunnel on
// listener, then shuts everything down when ctx is cancelled or the server
// fails.
func (a *app) serve(ctx context.Context, listener net.Listener) error {
	l := pkglog.L()
	cfg := a.cfg

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	httpServer := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)
	addr := listener.Addr().String()

	wg.Add(1)
	go func() {
		defer wg.Done()

		l.Info().Str("addr", addr).Str("version", Version).Msg("HTTP server listening")
		l.Info().Msgf("WebSocket: ws://%s/ws", addr)
		l.Info().Msgf("REST API: http://%s/api/sessions", addr)
		l.Info().Msgf("MCP endpoint: http://%s/mcp", addr)

		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if cfg.Discovery.Enabled {
		port := cfg.Server.Port
		if tcp, ok := listener.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
		advertiser := discovery.NewAdvertiser(discovery.Config{
			Instance: cfg.Discovery.Instance,
			Service:  cfg.Discovery.Service,
			Domain:   cfg.Discovery.Domain,
			Port:     port,
			Version:  Version,
			Path:     "/ws",
		})
		// Failure is logged by Start; the server runs without discovery.
		_ = advertiser.Start(pkglog.WithLogger(ctx, l))
		defer advertiser.Stop()
	}

	if a.tunnel != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.tunnel(ctx, a.handler)
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		l.Info().Msg("shutting down")
	case err = <-serveErr:
		l.Error().Err(err).Msg("HTTP server failed")
	}

	// Stops the tunnel too when the server failed on its own.
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		l.Warn().Err(shutdownErr).Msg("HTTP server shutdown error")
	}

	// Hijacked websocket connections are closed by the hub.
	stopHub()
	<-a.hub.Done()

	wg.Wait()
	l.Info().Msg("server stopped")
	return err
}

// runNgrok serves handler through an ngrok tunnel until ctx is cancelled.
func runNgrok(ctx context.Context, cfg config.NgrokConfig, handler http.Handler) {
	l := pkglog.L().With().Str("component", "ngrok").Logger()
	l.Info().Msg("starting ngrok tunnel")

	var tunnel ngrokConfig.Tunnel
	if cfg.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
		l.Info().Str("domain", cfg.Domain).Msg("using custom ngrok domain")
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		l.Error().Err(err).Msg("failed to start ngrok tunnel")
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			l.Warn().Err(err).Msg("failed to close ngrok tunnel")
		}
	}()

	ngrokURL := tun.URL()
	l.Info().Str("url", ngrokURL).Msg("ngrok tunnel established")
	l.Info().Msgf("WebSocket (ngrok): %s/ws", ngrokURL)

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		l.Error().Err(err).Msg("ngrok server error")
	}
	l.Info().Msg("ngrok tunnel closed")
}

// runStdioMCP serves MCP over stdio against the REST API at apiURL.
func runStdioMCP(ctx context.Context, apiURL string) error {
	l := pkglog.L()

	probe := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("invalid api url %q: %w", apiURL, err)
	}
	if resp, err := probe.Do(req); err != nil {
		l.Warn().Err(err).Str("api_url", apiURL).Msg("lightshow server not reachable yet; tools will fail until it is")
	} else {
		resp.Body.Close()
	}

	l.Info().Str("api_url", apiURL).Msg("MCP stdio server ready")
	return mcp.NewClient(apiURL, Version).ServeStdio()
}
