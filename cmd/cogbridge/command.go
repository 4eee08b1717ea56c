// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buke/cogbridge"
	"github.com/spf13/cobra"
)

// options holds the command line flags.
type options struct {
	configPath   string
	logLevel     string
	engine       string
	platform     string
	baseURI      string
	readyTimeout time.Duration
	once         bool
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "cogbridge [uri]",
		Short: "Run a page in a headless view bridged to host functions",
		Long: `Loads the page at uri (a file path, file: or data: URI), or the built-in
demo page when no uri is given, and exposes add, greet, request_event and done
to it as window.cogbridge functions. Console output of the page is printed.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			uri := ""
			if len(args) > 0 {
				uri = args[0]
			}
			if err := run(ctx, opts, uri, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
				return err
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fs := cmd.Flags()
	fs.StringVarP(&opts.configPath, "config", "c", "", "Configuration file (yaml, json or toml)")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVarP(&opts.engine, "engine", "e", "goja", "Script engine ("+engineNames()+")")
	fs.StringVarP(&opts.platform, "platform", "p", "", "Platform backend, overrides the configuration")
	fs.StringVar(&opts.baseURI, "base-uri", "", "Base URI for relative script sources of the demo page")
	fs.DurationVar(&opts.readyTimeout, "ready-timeout", 10*time.Second, "How long to wait for the page to load")
	fs.BoolVar(&opts.once, "once", false, "Exit when the page calls cogbridge.done()")
	return cmd
}

// run initializes a host, loads the page and blocks until ctx is done or, with
// --once, the page calls done.
func run(ctx context.Context, opts *options, uri string, stdout, stderr io.Writer) error {
	logger := cogbridge.NewTextLogger(stderr, opts.logLevel)

	cfg, err := cogbridge.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.platform != "" {
		p, err := cogbridge.ParsePlatform(opts.platform)
		if err != nil {
			return err
		}
		cfg.Platform = p
	}

	backend, err := newBackend(opts.engine, logger)
	if err != nil {
		return err
	}

	host := cogbridge.NewHost(
		cogbridge.WithHostLogger(logger),
		cogbridge.WithBackendForAll(backend),
	)
	if err := host.Init(cfg); err != nil {
		return err
	}
	defer func() {
		if err := host.Cleanup(); err != nil {
			logger.Warn("Failed to clean up host", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge, err := host.NewBridge("cogbridge-demo",
		cogbridge.WithConsoleHandler(cogbridge.ConsoleHandlerFunc(func(_ *cogbridge.Bridge, msg *cogbridge.ConsoleMessage) {
			fmt.Fprintf(stdout, "[console] %s %s\n", msg.Level, msg.Message)
		})))
	if err != nil {
		return err
	}

	demo := &demo{out: stdout}
	if opts.once {
		demo.done = cancel
	}
	if err := demo.bind(bridge); err != nil {
		return err
	}

	if uri != "" {
		err = bridge.LoadURI(uri)
	} else {
		err = bridge.LoadHTML(demoPage, opts.baseURI)
	}
	if err != nil {
		return err
	}

	if !bridge.WaitReady(opts.readyTimeout) {
		return fmt.Errorf("page not ready after %s", opts.readyTimeout)
	}
	logger.Info("Page ready, running until interrupted", "engine", opts.engine, "platform", host.Platform())

	if err := host.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
