package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0gfoundation/gated-faucet/internal/api"
	"github.com/0gfoundation/gated-faucet/internal/chain"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the deployment record over HTTP",
		Long: `Serves GET /healthz, /deployments and /deployments/:role. When RPC_URL and
PRIVATE_KEY are configured, GET /status reports on-chain state as well. Stops
on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			log := a.log

			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			st, err := a.store(ctx)
			if err != nil {
				return err
			}
			var ledger chain.Ledger
			if a.cfg.RequireChain() == nil {
				c, err := a.ledger(ctx)
				if err != nil {
					return err
				}
				ledger = c
			} else {
				log.Info("chain not configured, /status disabled")
			}

			// ── HTTP server ───────────────────────────────────────────────
			r := gin.New()
			r.Use(gin.Recovery())
			api.NewHandler(st, ledger, log).Register(&r.RouterGroup)

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("HTTP server starting", zap.Int("port", a.cfg.Server.Port), zap.String("record", st.Path()))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			// ── Graceful shutdown ─────────────────────────────────────────
			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", zap.Error(err))
				return err
			}
			log.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default HTTP_PORT)")
	return cmd
}
