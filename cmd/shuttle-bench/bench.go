package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/notargets/shuttle/analysis"
	"github.com/notargets/shuttle/device"
	"github.com/notargets/shuttle/runner"
)

var tracer trace.Tracer = otel.Tracer("shuttle-bench")

// benchResult is the JSON-serializable outcome of one benchmark run.
type benchResult struct {
	Mode        string         `json:"mode"`
	Size        int            `json:"size"`
	Passes      int            `json:"passes"`
	Invocations int            `json:"invocations"`
	ToDevice    map[string]int `json:"to_device"`
	ToHost      map[string]int `json:"to_host"`
	ElapsedNS   int64          `json:"elapsed_ns"`
	Elapsed     string         `json:"elapsed"`
}

func benchCmd() *cli.Command {
	var (
		size       int64
		passes     int64
		mode       string
		configPath string
		asJSON     bool
		enableOTel bool
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Run the accumulate kernel and report transfer counts per mode",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "size",
				Usage:       "work size (elements per buffer)",
				Value:       1 << 20,
				Destination: &size,
			},
			&cli.Int64Flag{
				Name:        "passes",
				Usage:       "pass count per run",
				Value:       16,
				Destination: &passes,
			},
			&cli.StringFlag{
				Name:        "mode",
				Usage:       "scheduling mode: implicit, explicit or fused",
				Value:       "fused",
				Destination: &mode,
			},
			&cli.StringFlag{
				Name:        "config",
				Usage:       "YAML config file (explicit flags override it)",
				Destination: &configPath,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "emit the result as JSON",
				Destination: &asJSON,
			},
			&cli.BoolFlag{
				Name:        "otel",
				Usage:       "enable OpenTelemetry tracing (stdout)",
				Destination: &enableOTel,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config{Size: int(size), Passes: int(passes), Mode: mode}
			if configPath != "" {
				fileCfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				if !cmd.IsSet("size") && fileCfg.Size > 0 {
					cfg.Size = fileCfg.Size
				}
				if !cmd.IsSet("passes") && fileCfg.Passes > 0 {
					cfg.Passes = fileCfg.Passes
				}
				if !cmd.IsSet("mode") && fileCfg.Mode != "" {
					cfg.Mode = fileCfg.Mode
				}
			}

			if enableOTel {
				shutdown, err := initTracer()
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}
				defer func() { _ = shutdown(context.Background()) }()
			}

			ctx, span := tracer.Start(ctx, "bench")
			defer span.End()

			result, err := bench(ctx, cfg)
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			log.Info().
				Str("mode", result.Mode).
				Int("size", result.Size).
				Int("passes", result.Passes).
				Interface("to_device", result.ToDevice).
				Interface("to_host", result.ToHost).
				Str("elapsed", result.Elapsed).
				Msg("bench complete")
			return nil
		},
	}
}

func bench(ctx context.Context, cfg config) (*benchResult, error) {
	if cfg.Size <= 0 || cfg.Passes <= 0 {
		return nil, fmt.Errorf("size and passes must be positive (size=%d passes=%d)", cfg.Size, cfg.Passes)
	}

	x := make([]float64, cfg.Size)
	b := make([]float64, cfg.Size)
	for i := range b {
		b[i] = float64(i % 97)
	}

	fn := func(p *device.Pass, gid int) {
		p.Float64("x")[gid] += p.Float64("b")[gid]
	}
	k := runner.NewKernel("accumulate", fn,
		analysis.NewRoutine("accumulate").Reads("b").ReadsWrites("x"))

	s, err := runner.NewSession(device.NewHost(), k,
		runner.Bind("x", x), runner.Bind("b", b))
	if err != nil {
		return nil, err
	}
	defer s.Free()

	_, span := tracer.Start(ctx, "execute")
	defer span.End()

	start := time.Now()
	invocations := 0

	switch cfg.Mode {
	case "fused":
		s.ExecutePasses(cfg.Size, cfg.Passes)
		invocations = 1
	case "implicit":
		for i := 0; i < cfg.Passes; i++ {
			s.Execute(cfg.Size)
			invocations++
		}
		s.Flush()
	case "explicit":
		if err := s.SetExplicit(true); err != nil {
			return nil, err
		}
		s.Put("x", "b")
		for i := 0; i < cfg.Passes; i++ {
			s.Execute(cfg.Size)
			invocations++
		}
		s.Get("x")
	default:
		return nil, fmt.Errorf("unknown mode %q (want implicit, explicit or fused)", cfg.Mode)
	}
	elapsed := time.Since(start)

	if err := s.Err(); err != nil {
		return nil, err
	}

	return &benchResult{
		Mode:        cfg.Mode,
		Size:        cfg.Size,
		Passes:      cfg.Passes,
		Invocations: invocations,
		ToDevice: map[string]int{
			"x": s.Transfers("x", runner.ToDevice),
			"b": s.Transfers("b", runner.ToDevice),
		},
		ToHost: map[string]int{
			"x": s.Transfers("x", runner.ToHost),
			"b": s.Transfers("b", runner.ToHost),
		},
		ElapsedNS: elapsed.Nanoseconds(),
		Elapsed:   elapsed.String(),
	}, nil
}
