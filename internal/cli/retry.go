package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go-file-transfer/internal/journal"
	"go-file-transfer/internal/model"
	"go-file-transfer/internal/transfer"
)

func newRetryCmd(cc *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Retry an interrupted or failed task",
		Long: `Retry puts an interrupted or failed task back to pending.

Server-side operations resume on the server and skip finished items. Uploads
resume from this machine: the local sources are looked up in the upload
journal and only chunks the server does not hold yet are sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			j, err := journal.Open(cc.settings.Journal)
			if err != nil {
				return err
			}
			defer j.Close()

			ctl, err := cc.newController(cmd)
			if err != nil {
				return err
			}

			// Uploads are checked locally first so a retry that cannot resume
			// leaves the task where it was.
			task, err := cc.api.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			var entry journal.Entry
			if task.Type == model.TaskTypeUpload {
				if entry, err = resumeEntry(ctx, j, taskID); err != nil {
					return err
				}
			}

			resp, err := ctl.Retry(ctx, taskID)
			if err != nil {
				return err
			}
			if resp.Task.Type != model.TaskTypeUpload {
				printTask(out, resp.Task)
				return nil
			}

			files, err := pendingFiles(entry, resp)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "task %s: resuming %d files -> %s\n", taskID, len(files), resp.TargetPath)

			ui := newProgressUI(cmd.ErrOrStderr(), len(files))
			report, err := cc.newUploader(ui).Resume(ctx, taskID, resp.TargetPath, files)
			ui.Wait()
			return finishUpload(ctx, out, j, taskID, report, err)
		},
	}

	cmd.Flags().String("chunk-size", "", "chunk size, e.g. 32MiB; must match the original upload to reuse chunks")
	cmd.Flags().Int("workers", 0, "files uploaded in parallel")
	cmd.Flags().Duration("max-pause-wait", 0, "give up after the task stays paused this long (0 waits forever)")
	return cmd
}

// resumeEntry returns the journal record of an upload whose local root is
// still present.
func resumeEntry(ctx context.Context, j *journal.Journal, taskID string) (journal.Entry, error) {
	entry, err := j.Lookup(ctx, taskID)
	if errors.Is(err, journal.ErrNotFound) {
		return journal.Entry{}, fmt.Errorf("no local record of upload %s; upload the files again", taskID)
	}
	if err != nil {
		return journal.Entry{}, err
	}
	if _, err := os.Stat(entry.LocalRoot); err != nil {
		return journal.Entry{}, fmt.Errorf("local sources of %s: %w", taskID, err)
	}
	return entry, nil
}

// pendingFiles pairs the server's list of unfinished files with their local
// sources and reserved destinations. Files keep the size planned at batch
// time so the uploader notices a source that changed since.
func pendingFiles(entry journal.Entry, resp model.RetryResponse) ([]transfer.PlannedFile, error) {
	resolved := make(map[string]string, len(resp.Files))
	planned := make(map[string]int64, len(resp.Files))
	for _, f := range resp.Files {
		if f.Resolved != nil {
			resolved[f.Original] = *f.Resolved
		}
		if f.Size != nil {
			planned[f.Original] = *f.Size
		}
	}

	files := make([]transfer.PlannedFile, 0, len(resp.PendingFiles))
	for _, original := range resp.PendingFiles {
		target, ok := resolved[original]
		if !ok {
			return nil, fmt.Errorf("server sent no destination for %s", original)
		}

		source := entry.Source(original)
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("local source of %s: %w", original, err)
		}

		size, ok := planned[original]
		if !ok {
			size = info.Size()
		}
		files = append(files, transfer.PlannedFile{
			LocalFile: transfer.LocalFile{Path: original, Source: source, Size: size},
			Resolved:  target,
		})
	}
	return files, nil
}
