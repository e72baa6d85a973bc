package handler

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/pricewatch/internal/adapter/handler/rpc"
	"github.com/rl1809/pricewatch/internal/core/service"
)

func startGRPC(t *testing.T, rec Reconciler) *rpc.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	rpc.RegisterReconcileServer(srv, NewGRPCHandler(rec))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return rpc.NewClient(conn)
}

func TestGRPCRun(t *testing.T) {
	rec := newMockReconciler()
	client := startGRPC(t, rec)

	resp, err := client.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", resp.Summary.RunID)
	assert.Equal(t, 2, resp.Summary.UpdatedCount)
	assert.Equal(t, rec.summary.Updated, resp.Summary.Updated)
	assert.True(t, rec.summary.StartedAt.Equal(resp.Summary.StartedAt))
	assert.Equal(t, 1, rec.runCalls())
}

func TestGRPCRun_ErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{service.ErrRunInProgress, codes.AlreadyExists},
		{errors.Join(service.ErrCatalogLoad, errors.New("db down")), codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}

	for _, tt := range tests {
		rec := newMockReconciler()
		rec.runErr = tt.err
		client := startGRPC(t, rec)

		_, err := client.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, tt.code, status.Code(err), tt.err.Error())
	}
}

func TestGRPCLastRun(t *testing.T) {
	rec := newMockReconciler()
	client := startGRPC(t, rec)

	resp, err := client.LastRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", resp.Summary.RunID)

	rec.mu.Lock()
	rec.lastErr = service.ErrNoRunRecorded
	rec.mu.Unlock()

	_, err = client.LastRun(context.Background())
	assert.Equal(t, codes.NotFound, status.Code(err))
}
