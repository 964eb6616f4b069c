// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package cli // import "feedkeeper.app/internal/cli"

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"feedkeeper.app/internal/config"
)

var healthCmd = cobra.Command{
	Use:   "healthcheck auto|endpoint",
	Short: `Perform a health check on the given endpoint`,

	Long: `Perform a health check on the given endpoint.

The value "auto" builds the endpoint from LISTEN_ADDR, which may be a unix
socket path.
`,

	Example: `
$ feedkeeper healthcheck http://127.0.0.1:8080/healthcheck
`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return doHealthCheck(cmd.Context(), args[0], config.Opts.ListenAddr())
	},
}

func doHealthCheck(ctx context.Context, endpoint, listenAddr string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	client := &http.Client{Timeout: 3 * time.Second}
	if endpoint == "auto" {
		endpoint = "http://" + listenAddr + "/healthcheck"
		if strings.HasPrefix(listenAddr, "/") {
			endpoint = "http://unix/healthcheck"
			client.Transport = unixTransport(listenAddr)
		}
	}

	slog.Debug("Executing health check request",
		slog.String("endpoint", endpoint))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf(`health check failure: %w`, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf(`health check failed with status code %d`,
			resp.StatusCode)
	}
	slog.Debug(`Health check is passing`)
	return nil
}

func unixTransport(path string) *http.Transport {
	var d net.Dialer
	return &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return d.DialContext(ctx, "unix", path)
		},
	}
}
