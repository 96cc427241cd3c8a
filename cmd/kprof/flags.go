package main

import "github.com/urfave/cli/v3"

var (
	configFile   string
	backendName  string
	workloadRef  string
	workloadsDir string
	logLevel     string
	logFormat    string
	debug        bool

	// loaded is the config file read by the root Before hook.
	loaded Config
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "path to config.yaml (default: $XDG_CONFIG_HOME/kprof/config.yaml)",
		Sources:     cli.EnvVars(envConfig),
		Destination: &configFile,
	}
}

func backendFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "backend",
		Usage:       "execution backend (auto, host, cuda)",
		Value:       "auto",
		Destination: &backendName,
	}
}

func workloadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "workload",
			Aliases:     []string{"w"},
			Usage:       "preset name or path to a workload .yaml file",
			Destination: &workloadRef,
		},
		&cli.StringFlag{
			Name:        "workloads-dir",
			Usage:       "directory of extra workload .yaml files",
			Sources:     cli.EnvVars(envWorkloadsDir),
			Destination: &workloadsDir,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
