package handler

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/pricewatch/internal/adapter/handler/rpc"
	"github.com/rl1809/pricewatch/internal/core/service"
	"github.com/rl1809/pricewatch/internal/obs"
)

type GRPCHandler struct {
	reconciler Reconciler
}

func NewGRPCHandler(reconciler Reconciler) *GRPCHandler {
	return &GRPCHandler{reconciler: reconciler}
}

func (h *GRPCHandler) Run(ctx context.Context, req *rpc.RunRequest) (*rpc.RunResponse, error) {
	summary, err := h.reconciler.Run(context.WithoutCancel(ctx))
	if err != nil {
		obs.Logger.Warn("grpc_reconcile_rejected", "error", err)
		if errors.Is(err, service.ErrRunInProgress) {
			return nil, status.Error(codes.AlreadyExists, "reconciliation already running")
		}
		if errors.Is(err, service.ErrCatalogLoad) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.Error(codes.Internal, "internal error")
	}
	return &rpc.RunResponse{Summary: summary}, nil
}

func (h *GRPCHandler) LastRun(ctx context.Context, req *rpc.LastRunRequest) (*rpc.RunResponse, error) {
	summary, err := h.reconciler.LastRun(ctx)
	if err != nil {
		if errors.Is(err, service.ErrNoRunRecorded) {
			return nil, status.Error(codes.NotFound, "no run recorded")
		}
		return nil, status.Error(codes.Internal, "internal error")
	}
	return &rpc.RunResponse{Summary: summary}, nil
}
