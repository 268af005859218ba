// faucetctl is the operator CLI for the gated faucet.
//
// Usage:
//   go run ./cmd/faucetctl deploy --mode upgradeable-proxy
//   go run ./cmd/faucetctl upgrade --probe version
//   go run ./cmd/faucetctl mint-and-claim --fund 0.015
//   go run ./cmd/faucetctl status
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/0gfoundation/gated-faucet/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
