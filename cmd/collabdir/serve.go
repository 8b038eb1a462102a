package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the directory HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := g.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			a, err := newApp(ctx, cfg, g.stderr)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				_ = a.Close(context.Background())
				return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
			}
			return a.serve(ctx, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overriding server.addr")
	return cmd
}

// serve runs the HTTP server on ln until ctx ends, then shuts the server
// down and releases the app.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	h, err := a.handler()
	if err != nil {
		_ = ln.Close()
		_ = a.Close(context.Background())
		return err
	}
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		a.logger.Info("listening", "addr", ln.Addr().String(), "storage", a.cfg.Storage.Driver)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
		if err := a.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	return grp.Wait()
}
