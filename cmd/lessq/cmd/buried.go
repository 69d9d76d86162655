package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/lessq/lessq/internal/queue"
	"github.com/spf13/cobra"
)

func newBuriedCommand(opts *options) *cobra.Command {
	var page, size int

	cmd := &cobra.Command{
		Use:   "buried",
		Short: "List buried jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			buried, err := rt.Queue.GetBuried(ctx, queue.Page{Number: page, Size: size})
			if err != nil {
				return err
			}
			if len(buried.Jobs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No buried jobs on page %d (%d total).\n", page, buried.Total)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tATTEMPT\tPRIORITY\tPAYLOAD")
			for _, j := range buried.Jobs {
				payload := string(j.Data)
				if len(payload) > 50 {
					payload = payload[:47] + "..."
				}
				fmt.Fprintf(w, "%v\t%s\t%d\t%d\t%s\n", j.ID, j.Name, j.Attempt, j.Priority, payload)
			}
			w.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "Page %d, %d buried in total.\n", page, buried.Total)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number, starting at 1")
	cmd.Flags().IntVar(&size, "size", 20, "jobs per page")
	return cmd
}

func newReanimateCommand(opts *options) *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "reanimate <id>",
		Short: "Return a buried job to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := queue.ParseRowID(args[0])
			if err != nil {
				return err
			}

			var until *time.Time
			if delay > 0 {
				t := time.Now().Add(delay)
				until = &t
			}

			rt, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Queue.Reanimate(cmd.Context(), id, until); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reanimated %v\n", id)
			return nil
		},
	}

	cmd.Flags().DurationVarP(&delay, "delay", "d", 0, "delay before the job becomes due")
	return cmd
}
