package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/rl1809/pricewatch/internal/adapter/handler/rpc"
	"github.com/rl1809/pricewatch/internal/app"
	"github.com/rl1809/pricewatch/internal/config"
	"github.com/rl1809/pricewatch/internal/obs"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and gRPC reconcile triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config.Load())
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	grpcServer := grpc.NewServer()
	rpc.RegisterReconcileServer(grpcServer, a.GRPC)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	go func() {
		obs.Logger.Info("grpc_listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			obs.Logger.Error("grpc_server_error", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: a.HTTP.Routes(),
	}

	go func() {
		obs.Logger.Info("http_listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			obs.Logger.Error("http_server_error", "error", err)
		}
	}()

	<-ctx.Done()
	obs.Logger.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		obs.Logger.Warn("http_shutdown_incomplete", "error", err)
	}
	obs.Logger.Info("http_stopped")

	grpcServer.GracefulStop()
	obs.Logger.Info("grpc_stopped")
	return nil
}
