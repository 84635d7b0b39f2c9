// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	usage = `mempool workload driver

Replays a seeded random mix of alloc, free, realloc and defrag calls
against a single fixed-capacity pool, checking every live block's
contents and the allocator invariants as it goes.`
)

// Populated at build time.
var (
	version  string
	commitId string
)

func main() {
	app := cli.NewApp()
	app.Name = "mempool-bench"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "capacity, c",
			Value: "1MiB",
			Usage: "pool capacity, e.g. 64KiB or 4MB",
		},
		cli.IntFlag{
			Name:  "ops, n",
			Value: 100000,
			Usage: "number of operations to replay",
		},
		cli.Uint64Flag{
			Name:  "seed",
			Value: 1,
			Usage: "random seed; the same seed replays the same workload",
		},
		cli.IntFlag{
			Name:  "max-size",
			Value: 1024,
			Usage: "largest payload requested by a single alloc or realloc",
		},
		cli.IntFlag{
			Name:  "max-nodes",
			Value: 0,
			Usage: "overflow list length that triggers auto-defrag (0 = no limit)",
		},
		cli.BoolFlag{
			Name:  "auto-defrag",
			Usage: "defragment automatically once the overflow list exceeds --max-nodes",
		},
		cli.IntFlag{
			Name:  "buckets",
			Value: 8,
			Usage: "number of size-class buckets (0 disables them)",
		},
		cli.BoolFlag{
			Name:  "mmap",
			Usage: "back the pool with an anonymous memory mapping",
		},
		cli.IntFlag{
			Name:  "verify-every",
			Value: 1000,
			Usage: "run the invariant check every N operations (0 = only at the end)",
		},
		cli.StringFlag{
			Name:  "log, l",
			Value: "",
			Usage: "log file path or empty string for stderr output (default: \"\")",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text (default = text)",
		},
		cli.BoolFlag{
			Name:   "cpu-profiling",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
		cli.BoolFlag{
			Name:   "memory-profiling",
			Usage:  "enable memory-profiling data collection",
			Hidden: true,
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("mempool-bench\n"+
			"\tversion: \t%s\n"+
			"\tcommit: \t%s\n",
			c.App.Version, commitId)
	}

	app.Before = func(ctx *cli.Context) error {
		return setupLogging(ctx.GlobalString("log"), ctx.GlobalString("log-format"), ctx.GlobalString("log-level"))
	}

	app.Action = func(ctx *cli.Context) error {
		cfg, err := newConfig(ctx)
		if err != nil {
			return err
		}

		prof, err := runProfiler(ctx)
		if err != nil {
			return err
		}
		if prof != nil {
			defer prof.Stop()
		}

		logrus.WithFields(logrus.Fields{
			"capacity": cfg.capacity,
			"ops":      cfg.ops,
			"seed":     cfg.seed,
		}).Info("Starting workload")

		rep, err := runWorkload(cfg, logrus.StandardLogger())
		if err != nil {
			return errors.Wrap(err, "workload failed")
		}
		rep.print(os.Stdout)
		logrus.Info("Done.")
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func setupLogging(path, format, level string) error {
	var out io.Writer = os.Stderr
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrapf(err, "failed to open log file %s", path)
		}
		out = f
	}
	logrus.SetOutput(out)

	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	}

	lvl, err := parseLogLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	return nil
}

func parseLogLevel(level string) (logrus.Level, error) {
	switch level {
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "fatal":
		return logrus.FatalLevel, nil
	default:
		return 0, errors.Errorf("'%v' log-level option not recognized", level)
	}
}

// Run cpu / memory profiling collection.
func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	cpuProfOn := ctx.Bool("cpu-profiling")
	memProfOn := ctx.Bool("memory-profiling")

	// Cpu and Memory profiling options seem to be mutually exclusive in pprof.
	if cpuProfOn && memProfOn {
		return nil, errors.New("unsupported parameter combination: cpu and memory profiling")
	}

	if cpuProfOn {
		logrus.Info("Initiated cpu-profiling data collection.")
		return profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
	}
	if memProfOn {
		logrus.Info("Initiated memory-profiling data collection.")
		return profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
	}
	return nil, nil
}
