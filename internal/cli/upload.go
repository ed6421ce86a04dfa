package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"go-file-transfer/internal/journal"
	"go-file-transfer/internal/model"
	"go-file-transfer/internal/transfer"
)

func newUploadCmd(cc *cliContext) *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "upload <local-path> <target-dir>",
		Short: "Upload a file or directory in resumable chunks",
		Long: `Upload a file or a directory tree into target-dir on the server.

Name conflicts are resolved by the server in one round trip before any data
is sent: auto_rename picks "name (1).ext", overwrite replaces, skip leaves the
existing file alone. Interrupted uploads can be continued with
"transferctl retry <task-id>".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, root, err := collectLocal(args[0], args[1], strategy)
			if err != nil {
				return err
			}

			j, err := journal.Open(cc.settings.Journal)
			if err != nil {
				return err
			}
			defer j.Close()

			ui := newProgressUI(cmd.ErrOrStderr(), len(req.Files))
			uploader := cc.newUploader(ui)

			ctx := cmd.Context()
			batch, err := uploader.Plan(ctx, req)
			if err != nil {
				return err
			}

			if err := j.Record(ctx, journal.Entry{
				TaskID:           batch.TaskID,
				LocalRoot:        root,
				TargetPath:       req.TargetPath,
				ConflictStrategy: strategy,
			}); err != nil {
				cc.log.Warn("upload will not be resumable after a restart", "task_id", batch.TaskID, "error", err)
			}

			var total int64
			for _, f := range req.Files {
				total += f.Size
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s: %d files, %s -> %s\n", batch.TaskID, len(req.Files), humanize.IBytes(uint64(total)), req.TargetPath)

			report, err := uploader.Run(ctx, batch)
			ui.Wait()
			return finishUpload(ctx, cmd.OutOrStdout(), j, batch.TaskID, report, err)
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", model.ConflictAutoRename, "conflict strategy: auto_rename, overwrite or skip")
	cmd.Flags().String("chunk-size", "", "chunk size, e.g. 32MiB")
	cmd.Flags().Int("workers", 0, "files uploaded in parallel")
	cmd.Flags().Duration("max-pause-wait", 0, "give up after the task stays paused this long (0 waits forever)")
	return cmd
}

func (cc *cliContext) newUploader(observer transfer.Observer) *transfer.Uploader {
	return transfer.NewUploader(cc.api, transfer.NewRegistry(0), transfer.Options{
		ChunkSize: cc.settings.ChunkSize,
		Workers:   cc.settings.Workers,
		Executor:  transfer.ExecutorOptions{MaxPauseWait: cc.settings.MaxPauseWait, Logger: cc.log},
		Observer:  observer,
		Logger:    cc.log,
	})
}

// finishUpload prints the outcome of a batch and forgets completed uploads.
func finishUpload(ctx context.Context, out io.Writer, j *journal.Journal, taskID string, report transfer.Report, err error) error {
	switch {
	case errors.Is(err, transfer.ErrCancelled) && ctx.Err() != nil:
		fmt.Fprintf(out, "upload stopped; once the task shows as interrupted run: transferctl retry %s\n", taskID)
		return err
	case errors.Is(err, transfer.ErrCancelled):
		fmt.Fprintf(out, "task %s was cancelled\n", taskID)
		_ = j.Delete(context.WithoutCancel(ctx), taskID)
		return err
	case errors.Is(err, transfer.ErrStalled):
		fmt.Fprintf(out, "task %s stayed paused too long; resume it and run: transferctl retry %s\n", taskID, taskID)
		return err
	case err != nil:
		return err
	}

	var failed int
	for _, r := range report.Results {
		if r.Outcome == model.FileOutcomeFailed {
			failed++
			fmt.Fprintf(out, "failed: %s: %v\n", r.File.Path, r.Err)
		}
	}
	printTask(out, report.Task)

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed; retry with: transferctl retry %s", failed, len(report.Results), taskID)
	}
	if err := j.Delete(ctx, taskID); err != nil {
		return err
	}
	return nil
}

// collectLocal lists the regular files under localPath. Batch paths are
// relative to the parent of localPath, so a directory upload recreates the
// directory itself under target.
func collectLocal(localPath string, target string, strategy string) (transfer.BatchRequest, string, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return transfer.BatchRequest{}, "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return transfer.BatchRequest{}, "", err
	}

	root := filepath.Dir(abs)
	req := transfer.BatchRequest{TargetPath: target, ConflictStrategy: strategy}

	if !info.IsDir() {
		req.Files = []transfer.LocalFile{{Path: filepath.Base(abs), Source: abs, Size: info.Size()}}
		return req, root, nil
	}

	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		req.Files = append(req.Files, transfer.LocalFile{Path: filepath.ToSlash(rel), Source: p, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return transfer.BatchRequest{}, "", err
	}
	if len(req.Files) == 0 {
		return transfer.BatchRequest{}, "", fmt.Errorf("%s contains no files", localPath)
	}
	return req, root, nil
}
