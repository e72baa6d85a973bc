package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/pricewatch/internal/adapter/handler/rpc"
	"github.com/rl1809/pricewatch/internal/core/service"
)

type triggerOptions struct {
	addr    string
	last    bool
	timeout time.Duration
}

func newTriggerCmd() *cobra.Command {
	opts := triggerOptions{}
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running server to reconcile over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			conn, err := grpc.NewClient(opts.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()

			return trigger(ctx, rpc.NewClient(conn), opts.last, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "localhost:50051", "gRPC address of a pricewatch server")
	cmd.Flags().BoolVar(&opts.last, "last", false, "print the last recorded run instead of starting one")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "how long to wait for the run")
	return cmd
}

func trigger(ctx context.Context, client *rpc.Client, last bool, out io.Writer) error {
	call := client.Run
	if last {
		call = client.LastRun
	}

	resp, err := call(ctx)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return service.ErrRunInProgress
		}
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp.Summary)
}
