//go:build !unix

package main

import (
	"context"

	"github.com/chaz8081/basestation/internal/central"
)

const bypassHint = "unavailable on this platform"

func forwardBypass(ctx context.Context, _ chan<- central.Event) {
	<-ctx.Done()
}
