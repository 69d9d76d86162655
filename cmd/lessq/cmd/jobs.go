package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lessq/lessq/internal/job"
	"github.com/lessq/lessq/internal/queue"
	"github.com/spf13/cobra"
)

func newPublishCommand(opts *options) *cobra.Command {
	var (
		priority int
		delay    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "publish <name> [json-payload]",
		Short: "Publish a job",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage("null")
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				payload = json.RawMessage(args[1])
			}

			p, err := job.ParsePriority(priority)
			if err != nil {
				return err
			}
			pubOpts := []queue.PublishOption{queue.WithPriority(p)}
			if delay > 0 {
				pubOpts = append(pubOpts, queue.WithUntil(time.Now().Add(delay)))
			}

			rt, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Queue.Publish(cmd.Context(), args[0], payload, pubOpts...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().IntVarP(&priority, "priority", "p", int(job.PriorityNormal), "priority from 0 to 5")
	cmd.Flags().DurationVarP(&delay, "delay", "d", 0, "delay before the job becomes due")
	return cmd
}

func newDeleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored job or buried archive entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := queue.ParseRowID(args[0])
			if err != nil {
				return err
			}

			rt, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Queue.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %v\n", id)
			return nil
		},
	}
}

func newStatsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			processable, err := rt.Queue.CountProcessable(ctx)
			if err != nil {
				return err
			}
			processing, err := rt.Queue.CountProcessing(ctx)
			if err != nil {
				return err
			}
			buried, err := rt.Queue.CountBuried(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "processable: %d\nprocessing:  %d\nburied:      %d\n", processable, processing, buried)
			return nil
		},
	}
}
