//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/buke/cogbridge"
	gojaengine "github.com/buke/cogbridge/engines/goja"
	quickjsengine "github.com/buke/cogbridge/engines/quickjs-go"
	v8engine "github.com/buke/cogbridge/engines/v8go"
)

// A page calling a bound function and reporting the result back through another.
// Each iteration is one full scripted call round trip.
const benchmarkPage = `<script>
function roundTrip(n) {
    cogbridge.add(n, 1).then(function (r) { cogbridge.done(r); });
}
</script>`

// runBridgeBenchmark is a helper function to run a benchmark test for a given backend.
func runBridgeBenchmark(b *testing.B, backend cogbridge.Backend) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	host := cogbridge.NewHost(cogbridge.WithHostLogger(logger), cogbridge.WithBackendForAll(backend))
	if err := host.Init(nil); err != nil {
		b.Fatalf("Failed to init host: %v", err)
	}
	defer host.Cleanup()

	bridge, err := host.NewBridge("benchmark")
	if err != nil {
		b.Fatalf("Failed to create bridge: %v", err)
	}

	results := make(chan string, 1)
	if err := bridge.BindFunc("add", addHandler, nil); err != nil {
		b.Fatalf("Failed to bind add: %v", err)
	}
	if err := bridge.BindFunc("done", func(_ *cogbridge.Bridge, env *cogbridge.CallEnvelope) string {
		results <- env.Args
		return "true"
	}, nil); err != nil {
		b.Fatalf("Failed to bind done: %v", err)
	}
	if err := bridge.LoadHTML(benchmarkPage, ""); err != nil {
		b.Fatalf("Failed to load page: %v", err)
	}
	if !bridge.WaitReady(5 * time.Second) {
		b.Fatal("Page not ready")
	}

	b.ResetTimer() // Start timing after setup

	for i := 0; i < b.N; i++ {
		bridge.ExecuteScript("roundTrip(1)", nil)
		select {
		case <-results:
		case <-time.After(5 * time.Second):
			b.Fatal("Round trip timed out")
		}
	}
}

// BenchmarkBridge_Goja benchmarks call round trips on the Goja engine.
func BenchmarkBridge_Goja(b *testing.B) {
	runBridgeBenchmark(b, gojaengine.NewBackend())
}

// BenchmarkBridge_QuickJS benchmarks call round trips on the QuickJS engine.
func BenchmarkBridge_QuickJS(b *testing.B) {
	runBridgeBenchmark(b, quickjsengine.NewBackend())
}

// BenchmarkBridge_V8Go benchmarks call round trips on the V8 engine.
func BenchmarkBridge_V8Go(b *testing.B) {
	runBridgeBenchmark(b, v8engine.NewBackend())
}
