// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package server serves health probes, build information and metrics of the
// daemon.
package server // import "feedkeeper.app/internal/http/server"

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"feedkeeper.app/internal/logging"
)

const defaultTimeout = 30 * time.Second

// Listen returns a listener for addr. It's the systemd socket when the
// process was socket activated, a unix socket when addr starts with '/', a
// TCP listener otherwise.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	switch {
	case os.Getenv("LISTEN_PID") == strconv.Itoa(os.Getpid()):
		f := os.NewFile(3, "systemd socket")
		l, err := net.FileListener(f)
		if err != nil {
			return nil, fmt.Errorf(
				"http/server: create listener from systemd socket: %w", err)
		}
		return l, nil
	case strings.HasPrefix(addr, "/"):
		l, err := unixListener(addr, 0o666)
		if err != nil {
			return nil, fmt.Errorf("http/server: create unix listener on %q: %w",
				addr, err)
		}
		return l, nil
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("http/server: listen on %q: %w", addr, err)
	}
	return l, nil
}

func unixListener(path string, mode uint32) (*net.UnixListener, error) {
	if err := unlinkStaleUnix(path); err != nil {
		return nil, err
	}

	laddr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("http/server: resolve unix address: %w", err)
	}

	l, err := net.ListenUnix("unix", laddr)
	if err != nil {
		return nil, fmt.Errorf("http/server: listen unix: %w", err)
	}

	l.SetUnlinkOnClose(true)
	if mode == 0 {
		return l, nil
	}

	if err := os.Chmod(path, os.FileMode(mode)); err != nil {
		l.Close()
		return nil, fmt.Errorf(
			"http/server: change socket mode to %O: %w", mode, err)
	}
	return l, nil
}

func unlinkStaleUnix(path string) error {
	sockdir := filepath.Dir(path)
	stat, err := os.Stat(sockdir)
	switch {
	case err != nil && os.IsNotExist(err):
		if err := os.MkdirAll(sockdir, 0o755); err != nil {
			return fmt.Errorf("http/server: cannot mkdir %q: %w", sockdir, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("http/server: cannot stat(2) %q: %w", sockdir, err)
	case !stat.IsDir():
		return fmt.Errorf("http/server: not a directory: %q", sockdir)
	}

	_, err = os.Stat(path)
	switch {
	case err == nil:
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("http/server: cannot remove stale socket: %w", err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("http/server: cannot stat(2): %w", err)
	}
	return nil
}

// Serve serves h on l in g until ctx is canceled, then shuts the server
// down, waiting up to a few seconds for active requests.
func Serve(ctx context.Context, g *errgroup.Group, l net.Listener,
	h http.Handler,
) *http.Server {
	log := logging.FromContext(ctx)
	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: defaultTimeout,
		ReadTimeout:       defaultTimeout,
		WriteTimeout:      defaultTimeout,
		IdleTimeout:       defaultTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		log.Info("Starting HTTP server",
			slog.String("listen_address", l.Addr().String()))
		err := server.Serve(l)
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed serve HTTP", slog.Any("error", err))
			return fmt.Errorf("http/server: failed serve %q: %w",
				l.Addr().String(), err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
			5*time.Second)
		defer cancel()
		log.Info("Shutting down HTTP server")
		if err := server.Shutdown(ctx); err != nil {
			log.Error("failed shutdown HTTP server", slog.Any("error", err))
		}
		return nil
	})
	return server
}
