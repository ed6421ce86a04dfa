package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"go-file-transfer/internal/model"
)

const opPollInterval = time.Second

func newOpCmd(cc *cliContext) *cobra.Command {
	var (
		strategy string
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "op",
		Short: "Queue a server-side copy, move, delete, extract or download",
	}
	cmd.PersistentFlags().StringVar(&strategy, "strategy", model.ConflictAutoRename, "conflict strategy: auto_rename, overwrite or skip")
	cmd.PersistentFlags().BoolVar(&wait, "wait", false, "follow the task until it finishes")

	submit := func(cmd *cobra.Command, req model.OperationRequest) error {
		req.ConflictStrategy = strategy
		task, err := cc.api.SubmitOperation(cmd.Context(), req)
		if err != nil {
			return err
		}
		printTask(cmd.OutOrStdout(), task)
		if !wait {
			return nil
		}
		return cc.follow(cmd.Context(), cmd.OutOrStdout(), task.ID)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "copy <source>... <destination>",
			Short: "Copy files or directories into destination",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return submit(cmd, model.OperationRequest{Type: model.TaskTypeCopy, Sources: args[:len(args)-1], Destination: args[len(args)-1]})
			},
		},
		&cobra.Command{
			Use:   "move <source>... <destination>",
			Short: "Move files or directories into destination",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return submit(cmd, model.OperationRequest{Type: model.TaskTypeMove, Sources: args[:len(args)-1], Destination: args[len(args)-1]})
			},
		},
		&cobra.Command{
			Use:   "delete <path>...",
			Short: "Delete files or directories",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return submit(cmd, model.OperationRequest{Type: model.TaskTypeDelete, Sources: args})
			},
		},
		&cobra.Command{
			Use:   "extract <archive.zip> [destination]",
			Short: "Extract a zip archive, by default next to it",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				req := model.OperationRequest{Type: model.TaskTypeExtract, Sources: args[:1]}
				if len(args) == 2 {
					req.Destination = args[1]
				}
				return submit(cmd, req)
			},
		},
		&cobra.Command{
			Use:   "download <url> <destination>",
			Short: "Fetch a URL into a directory on the server",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return submit(cmd, model.OperationRequest{Type: model.TaskTypeDownload, URL: args[0], Destination: args[1]})
			},
		},
	)
	return cmd
}

// follow polls one task until it leaves the active states.
func (cc *cliContext) follow(ctx context.Context, out io.Writer, taskID string) error {
	ticker := time.NewTicker(opPollInterval)
	defer ticker.Stop()

	var last model.TaskStatus
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		task, err := cc.api.GetTask(ctx, taskID)
		if err != nil {
			cc.log.Warn("task poll failed", "task_id", taskID, "error", err)
			continue
		}
		if task.Status != last || task.Status == model.TaskRunning {
			printTask(out, task)
			last = task.Status
		}

		switch task.Status {
		case model.TaskCompleted:
			return nil
		case model.TaskFailed, model.TaskCancelled, model.TaskInterrupted:
			return fmt.Errorf("task %s ended %s", taskID, task.Status)
		}
	}
}
