// Command outie-bridge is the tiny process that runs inside the sandbox. It
// serves MCP over HTTP to the reasoning engine and relays every request to
// the orchestrator over a single inbound WebSocket uplink, because the
// orchestrator can dial into the sandbox but not the other way around.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/outie/internal/mcp"
	"github.com/haasonsaas/outie/internal/observability"
)

func main() {
	var (
		mcpPort        int
		wsPort         int
		requestTimeout time.Duration
		logLevel       string
	)

	root := &cobra.Command{
		Use:   "outie-bridge",
		Short: "In-sandbox MCP bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := observability.NewLogger(observability.LogConfig{Level: logLevel, Format: "text"})
			bridge := mcp.NewBridge(mcp.BridgeConfig{RequestTimeout: requestTimeout}, logger)
			return run(cmd.Context(), bridge, logger, mcpPort, wsPort)
		},
	}
	root.Flags().IntVar(&mcpPort, "mcp-port", 9921, "loopback port serving MCP HTTP to the engine")
	root.Flags().IntVar(&wsPort, "ws-port", 9920, "port accepting the orchestrator uplink")
	root.Flags().DurationVar(&requestTimeout, "request-timeout", 30*time.Second, "per-request uplink deadline")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, bridge *mcp.Bridge, logger *observability.Logger, mcpPort, wsPort int) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mcpServer := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", mcpPort),
		Handler:           bridge.MCPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	wsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", wsPort),
		Handler:           bridge.UplinkHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(ctx, "MCP HTTP listening", "addr", mcpServer.Addr)
		errCh <- mcpServer.ListenAndServe()
	}()
	go func() {
		logger.Info(ctx, "uplink listener ready", "addr", wsServer.Addr)
		errCh <- wsServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mcpServer.Shutdown(shutdownCtx)
	wsServer.Shutdown(shutdownCtx)
	return nil
}
