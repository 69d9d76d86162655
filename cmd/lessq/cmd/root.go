package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/lessq/lessq/internal/bootstrap"
	"github.com/lessq/lessq/internal/codec"
	"github.com/lessq/lessq/internal/config"
	"github.com/lessq/lessq/internal/logging"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	envFile    string
	cfg        *config.Config
}

// NewRootCommand builds the lessq command tree
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "lessq",
		Short: "lessq runs and operates a job queue",
		Long: `lessq is a job queue with two engines: a polled SQL or pebble table, and a
push engine on RabbitMQ or Redis with a side archive for buried jobs.

Configuration comes from a YAML file, then LESSQ_* environment variables
(a .env file is loaded first when present):

  LESSQ_QUEUE_ENGINE   poll or push
  LESSQ_QUEUE_STORE    sql (default, SQLite file lessq.db) or pebble
  LESSQ_QUEUE_BROKER   amqp or redis
  LESSQ_QUEUE_CODEC    json or proto payload storage
  LESSQ_SQL_DRIVER     sqlite3, postgres or pgx
  LESSQ_SQL_DSN        database connection string

A pebble store is locked by the process that opens it; use the sql store when
producers and consumers run as separate processes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "lessq.yaml", "config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	root.AddCommand(
		newServeCommand(opts),
		newPublishCommand(opts),
		newDeleteCommand(opts),
		newStatsCommand(opts),
		newBuriedCommand(opts),
		newReanimateCommand(opts),
		newMigrateCommand(opts),
	)
	return root
}

func (o *options) load(cmd *cobra.Command) error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Logging, cmd.ErrOrStderr()); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// open assembles the configured queue for JSON payloads, stored as JSON or as
// protobuf Struct messages
func (o *options) open(ctx context.Context) (*bootstrap.Runtime[json.RawMessage], error) {
	var c codec.Codec[json.RawMessage] = codec.JSON[json.RawMessage]{}
	if o.cfg.Queue.Codec == config.CodecProto {
		c = codec.NewStruct()
	}
	return bootstrap.Open[json.RawMessage](ctx, o.cfg, c)
}
