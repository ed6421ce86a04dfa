package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"go-file-transfer/internal/taskwatch"
)

const clearScreen = "\033[H\033[2J"

func newTasksCmd(cc *cliContext) *cobra.Command {
	var (
		watch   bool
		managed bool
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks grouped into active, interrupted and finished",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode := taskwatch.Lightweight
			if managed {
				mode = taskwatch.Managed
			}
			opts := taskwatch.Options{Mode: mode, Logger: cc.log}
			if watch {
				opts.Subscriber = cc.api
			}
			store := taskwatch.NewStore(cc.api, opts)
			out := cmd.OutOrStdout()

			if !watch {
				if err := store.Refresh(cmd.Context()); err != nil {
					return err
				}
				printBuckets(out, store.Buckets())
				return nil
			}

			ctx := cmd.Context()
			done := make(chan error, 1)
			go func() { done <- store.Run(ctx) }()

			for {
				select {
				case <-ctx.Done():
					return <-done
				case <-store.Updates():
					fmt.Fprint(out, clearScreen)
					fmt.Fprintf(out, "updated %s\n\n", store.LastRefresh().Format("15:04:05"))
					printBuckets(out, store.Buckets())
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep refreshing until interrupted")
	cmd.Flags().BoolVar(&managed, "managed", false, "poll the paged list, and only while tasks are running")
	return cmd
}
