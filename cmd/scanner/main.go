// Command scanner reads ticket payloads from stdin, one per line, and checks
// each in against the API.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cimillas/boxoffice/internal/scanclient"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	var (
		apiURL  = pflag.String("api", "http://localhost:8080", "base URL of the box office API")
		eventID = pflag.StringP("event", "e", "", "event being checked in (required)")
		token   = pflag.String("token", os.Getenv("SCANNER_TOKEN"), "scanner bearer token (default $SCANNER_TOKEN)")
		timeout = pflag.Duration("timeout", 10*time.Second, "per-scan timeout")
	)
	pflag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	if *eventID == "" || *token == "" {
		logger.Error().Msg("--event and --token are required")
		pflag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := scanclient.New(*apiURL, *token)
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		payload := strings.TrimSpace(in.Text())
		if payload == "" {
			continue
		}
		scanCtx, cancel := context.WithTimeout(ctx, *timeout)
		res, err := client.Scan(scanCtx, *eventID, payload)
		cancel()

		var apiErr *scanclient.APIError
		switch {
		case errors.As(err, &apiErr):
			logger.Error().Int("status", apiErr.Status).Str("code", apiErr.Code).Msg(apiErr.Message)
		case err != nil:
			logger.Error().Err(err).Msg("scan failed")
		case res.Admit:
			fmt.Printf("ADMIT  %s\n", res.Message)
		default:
			fmt.Printf("DENY   %s (%s)\n", res.Message, res.Outcome)
		}
		if ctx.Err() != nil {
			return
		}
	}
	if err := in.Err(); err != nil {
		logger.Error().Err(err).Msg("read stdin")
		os.Exit(1)
	}
}
