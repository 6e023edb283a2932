//go:build unix

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/basestation/internal/central"
)

const bypassHint = "kill -USR1 to scan without the whitelist"

// forwardBypass posts a WhitelistBypass for every SIGUSR1.
func forwardBypass(ctx context.Context, events chan<- central.Event) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			slog.Info("[SCAN] whitelist bypass requested")
			select {
			case events <- central.WhitelistBypass{}:
			case <-ctx.Done():
				return
			}
		}
	}
}
