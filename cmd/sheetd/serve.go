package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.alis.build/alog"
	"golang.org/x/sync/errgroup"

	"github.com/lijuchacko/sheetsync/internal/hub"
	"github.com/lijuchacko/sheetsync/internal/store"
)

const shutdownWait = 10 * time.Second

func init() {
	serveCmd.Flags().String("addr", "", "HTTP listen address")
	serveCmd.Flags().String("store", "", "Store kind: sqlite, json or memory")
	serveCmd.Flags().String("store-path", "", "SQLite file or JSON directory")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub: websocket sync, persistence and xlsx export",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		overrideString(cmd, "addr", &cfg.Addr)
		overrideString(cmd, "store", &cfg.StoreKind)
		overrideString(cmd, "store-path", &cfg.StorePath)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	st, err := store.Open(cfg.StoreKind, cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	h := hub.New(st)
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: hub.NewServer(h, st, hub.Options{
			AccessKeyHash: cfg.AccessKeyHash,
			DefaultBounds: cfg.Bounds(),
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(ctx)
		return nil
	})
	g.Go(func() error {
		alog.Infof(ctx, "sheetd: listening on %s (%s store)", cfg.Addr, cfg.StoreKind)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownWait)
		defer cancel()
		alog.Infof(sctx, "sheetd: shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func overrideString(cmd *cobra.Command, name string, dst *string) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetString(name)
	}
}
