package main

import (
	"fmt"
	"os"

	"github.com/op/go-logging"
	"github.com/spf13/cobra"

	"github.com/opencode-docker-py/dockergen/backup"
)

const (
	LogLevelEnv     = "DOCKERGEN_LOG_LEVEL"
	LogLevelDefault = "INFO"
)

var log = logging.MustGetLogger("log")

// InitLogger sends logs to stderr so stdout only carries the run report.
func InitLogger(level string) error {
	baseBackend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05} %{level:.5s}     %{message}`,
	)
	backendFormatter := logging.NewBackendFormatter(baseBackend, format)

	backendLeveled := logging.AddModuleLevel(backendFormatter)
	logLevel, err := logging.LogLevel(level)
	if err != nil {
		return err
	}
	backendLeveled.SetLevel(logLevel, "")

	logging.SetBackend(backendLeveled)
	return nil
}

func NewCommand(fs backup.FS, opts ...backup.Option) *cobra.Command {
	var cfg Config
	cmd := &cobra.Command{
		Use:           "dockergen",
		Short:         "Generate the docker-compose file for the agent container",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cfg, fs, backup.NewBackuper(fs, opts...), cmd.OutOrStdout())
		},
	}
	InitConfig(cmd.Flags(), &cfg)
	return cmd
}

func main() {
	level, ok := os.LookupEnv(LogLevelEnv)
	if !ok {
		level = LogLevelDefault
	}
	if err := InitLogger(level); err != nil {
		fmt.Fprintf(os.Stderr, "couldn't init logger: %s\n", err)
		os.Exit(1)
	}

	if err := NewCommand(backup.Host()).Execute(); err != nil {
		log.Criticalf("action: generate | result: fail | error: %+v", err)
		os.Exit(1)
	}
}
