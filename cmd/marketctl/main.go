package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/leafsii/marketplace/internal/calc"
	"github.com/leafsii/marketplace/internal/client"
	"github.com/leafsii/marketplace/internal/log"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "marketctl",
		Usage: "operate a marketplace server over its HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "endpoint", Value: "http://localhost:8080", EnvVars: []string{"MP_ENDPOINT"}, Usage: "marketplace API base URL"},
			&cli.StringFlag{Name: "caller", EnvVars: []string{"MP_CALLER"}, Usage: "address sent as the calling principal"},
			&cli.IntFlag{Name: "decimals", Value: -1, Usage: "read amounts as display decimals with this many places instead of smallest units"},
			&cli.DurationFlag{Name: "timeout", Value: 15 * time.Second, Usage: "per-request timeout"},
			&cli.IntFlag{Name: "retries", Value: 3, Usage: "retries on connection errors and 5xx responses"},
			&cli.BoolFlag{Name: "verbose", Usage: "log requests"},
		},
		Commands: []*cli.Command{
			tradingsCommand(),
			feesCommand(),
			currenciesCommand(),
			eventsCommand(),
			adminCommand(),
			devCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "marketctl: %v\n", err)
		os.Exit(1)
	}
}

func newClient(c *cli.Context) (*client.Client, error) {
	level := "warn"
	if c.Bool("verbose") {
		level = "debug"
	}
	logger, err := log.NewSugar("dev", level)
	if err != nil {
		logger = zap.NewNop().Sugar()
	}
	return client.New(c.String("endpoint"),
		client.WithCaller(c.String("caller")),
		client.WithLogger(logger),
		client.WithRetryMax(c.Int("retries")),
		client.WithTimeout(c.Duration("timeout")),
	), nil
}

// units converts an amount argument to smallest units according to --decimals.
func units(c *cli.Context, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	decimals := c.Int("decimals")
	if decimals < 0 {
		if _, err := strconv.ParseUint(s, 10, 64); err != nil {
			return "", fmt.Errorf("%q is not an amount in smallest units", s)
		}
		return s, nil
	}
	v, err := calc.ParseAmount(s, int32(decimals))
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(v, 10), nil
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return fmt.Errorf("%s expects %d argument(s): %s", c.Command.Name, n, c.Command.ArgsUsage)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
