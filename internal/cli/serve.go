package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-area-backend/internal/config"
	httpapi "github.com/tbourn/go-area-backend/internal/http"
	"github.com/tbourn/go-area-backend/internal/sysutil"
)

const shutdownGrace = 15 * time.Second

// NewServeCommand serves the HTTP API and the webhook endpoint.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the owner API and webhook deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := sysutil.SignalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			return a.serve(ctx)
		},
	}
}

func newServer(a *app) *http.Server {
	gin.SetMode(a.cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, a.db, a.queue, a.creds, a.cfg)
	return httpServer(a.cfg, r)
}

func httpServer(cfg config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}

// serve listens until ctx is cancelled, then drains open requests.
func (a *app) serve(ctx context.Context) error {
	srv := newServer(a)
	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("http server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	a.log.Info().Msg("http server shutting down")
	return srv.Shutdown(sctx)
}
