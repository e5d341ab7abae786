// Command mcpcore runs a minimal MCP server exposing the built-in example
// tool, resource and prompt, over either stdio (the default, matching the
// teacher's ProcessRequests-over-stdin/stdout model) or Streamable HTTP.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/richard-senior/mcpcore/internal/config"
	"github.com/richard-senior/mcpcore/internal/logger"
	"github.com/richard-senior/mcpcore/pkg/protocol"
	"github.com/richard-senior/mcpcore/pkg/server"
	"github.com/richard-senior/mcpcore/pkg/transport"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	httpAddr := flag.String("http", "", "serve Streamable HTTP on this address instead of stdio (e.g. :8080)")
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	log := logger.Default()
	if *debug {
		log.SetLevel(logger.DEBUG)
	} else {
		log.SetLevel(logger.INFO)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config: %s", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *httpAddr != "" {
		runHTTP(ctx, *httpAddr, cfg, log)
		return
	}
	runStdio(ctx, cfg, log)
}

func newServerOptions(cfg *config.Config, log *logger.Logger) server.Options {
	return server.Options{
		Info:         protocol.Implementation{Name: "mcpcore", Version: "0.1.0"},
		Instructions: "A minimal MCP core server exposing a calculator tool, a documentation resource and a code-review prompt.",
		Config:       cfg,
		Logger:       log,
	}
}

func registerDefaults(s *server.Server) {
	tool, toolHandler := server.DefaultCalculatorTool()
	s.Tool(tool, toolHandler)
	resource, resourceHandler := server.DefaultDocumentationResource()
	s.Resource(resource, resourceHandler)
	prompt, promptHandler := server.DefaultCodeReviewPrompt()
	s.Prompt(prompt, promptHandler)
}

func runStdio(ctx context.Context, cfg *config.Config, log *logger.Logger) {
	conn := transport.NewStdioConnection(os.Stdin, os.Stdout, log)
	s := server.New(conn, newServerOptions(cfg, log))
	registerDefaults(s)

	log.Info("mcpcore listening on stdio")
	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("server exited: %s", err)
	}
}

func runHTTP(ctx context.Context, addr string, cfg *config.Config, log *logger.Logger) {
	httpCfg := transport.HTTPConfig{
		EndpointPath:       cfg.HTTP.EndpointPath,
		SessionIdleTimeout: cfg.HTTP.SessionIdleTimeout,
		SSEBufferSize:      cfg.HTTP.SSEBufferSize,
		ConcurrencyCap:     cfg.HTTP.ConcurrencyCap,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
	}

	transportServer := transport.NewHTTPServer(httpCfg, log, nil, func(sessionID string, conn *transport.HTTPSessionConnection) func() {
		sessionCtx, cancel := context.WithCancel(ctx)
		s := server.New(conn, newServerOptions(cfg, log))
		registerDefaults(s)
		go func() {
			if err := s.Run(sessionCtx); err != nil && sessionCtx.Err() == nil {
				log.Warn("session %s exited: %s", sessionID, err)
			}
		}()
		return cancel
	})

	go transportServer.StartIdleReaper(ctx)

	httpServer := &http.Server{Addr: addr, Handler: transportServer.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown.Default)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("mcpcore listening on %s%s", addr, httpCfg.EndpointPath)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("http server exited: %s", err)
	}
}
