package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"go-file-transfer/internal/taskwatch"
)

func (cc *cliContext) newController(cmd *cobra.Command) (*taskwatch.Controller, error) {
	store := taskwatch.NewStore(cc.api, taskwatch.Options{Logger: cc.log})
	// Guards read the cache, so fill it once.
	if err := store.Refresh(cmd.Context()); err != nil {
		return nil, err
	}
	return taskwatch.NewController(cc.api, store, nil, cc.log), nil
}

// removalNote documents that interrupted tasks are removable. They can only
// move back to pending, so removal is the one way to discard them.
const removalNote = `Completed, failed, cancelled and interrupted tasks can be removed. An
interrupted task cannot be cancelled, so removing it is how an upload that
will never be retried is discarded. Active tasks must be cancelled first.`

func newControlCmd(cc *cliContext, action string, short string) *cobra.Command {
	var long string
	if action == "remove" {
		long = removalNote
	}

	return &cobra.Command{
		Use:   action + " <task-id>...",
		Short: short,
		Long:  long,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := cc.newController(cmd)
			if err != nil {
				return err
			}

			for _, id := range args {
				switch action {
				case "pause":
					ctl.Pause(id)
				case "resume":
					ctl.Resume(id)
				case "cancel":
					ctl.Cancel(id)
				case "remove":
					ctl.Remove(id)
				}
			}
			ctl.Wait()

			if failed := ctl.Failed(); failed > 0 {
				return fmt.Errorf("%s failed for %d of %d tasks", action, failed, len(args))
			}
			return nil
		},
	}
}

func newClearCmd(cc *cliContext, all bool) *cobra.Command {
	use, short, long := "clear", "Remove your finished tasks", ""
	if all {
		use, short, long = "clear-all", "Remove finished and interrupted tasks of every user (admin)", removalNote
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctl := taskwatch.NewController(cc.api, nil, nil, cc.log)
			if all {
				ctl.ClearAll()
			} else {
				ctl.Clear()
			}
			ctl.Wait()

			if ctl.Failed() > 0 {
				return fmt.Errorf("%s failed", use)
			}
			return nil
		},
	}
}
