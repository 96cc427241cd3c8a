package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kprof/internal/api"
	"github.com/samcharles93/kprof/internal/backend"
	"github.com/samcharles93/kprof/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		warmup      int
		repeat      int
		rateLimit   float64
		rateBurst   int
		keep        int
	)

	flags := append([]cli.Flag{backendFlag()}, workloadFlags()[1:]...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.IntFlag{
			Name:        "warmup",
			Usage:       "default warmup launches per instance",
			Value:       1,
			Destination: &warmup,
		},
		&cli.IntFlag{
			Name:        "repeat",
			Usage:       "default timed launches per instance",
			Value:       5,
			Destination: &repeat,
		},
		&cli.FloatFlag{
			Name:        "rate-limit",
			Usage:       "profiling sessions allowed per second (0 = unlimited)",
			Destination: &rateLimit,
		},
		&cli.IntFlag{
			Name:        "rate-burst",
			Usage:       "burst of sessions allowed above the rate limit",
			Value:       1,
			Destination: &rateBurst,
		},
		&cli.IntFlag{
			Name:        "keep",
			Usage:       "number of session reports kept for GET /v1/sessions/:id",
			Value:       256,
			Destination: &keep,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve workload listings and profiling sessions over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, loaded, &addr, &warmup, &repeat, &rateLimit, &rateBurst)

			set, err := loadWorkloads(workloadsDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			b, err := backend.Open(backendName)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: backend: %v", err), 1)
			}
			defer func() { _ = b.Close() }()

			opts := []api.Option{
				api.WithLogger(log),
				api.WithDefaults(api.Defaults{Warmup: warmup, Repeat: repeat}),
				api.WithStore(api.NewSessionStore(keep)),
			}
			if rateLimit > 0 {
				opts = append(opts, api.WithRateLimit(rateLimit, rateBurst))
			}
			server := api.NewServer(b, set, opts...)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "backend", b.Name(), "device", b.Device().Name(), "workloads", len(set.Names()))
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
