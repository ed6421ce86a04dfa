package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"go-file-transfer/internal/model"
	"go-file-transfer/internal/taskwatch"
)

func printBuckets(out io.Writer, b taskwatch.Buckets) {
	sections := []struct {
		title string
		tasks []model.Task
	}{
		{"Active", b.Active},
		{"Interrupted", b.Interrupted},
		{"Finished", b.Terminal},
	}

	printed := false
	for _, section := range sections {
		if len(section.tasks) == 0 {
			continue
		}
		if printed {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s (%d)\n", section.title, len(section.tasks))
		printTasks(out, section.tasks)
		printed = true
	}
	if !printed {
		fmt.Fprintln(out, "no tasks")
	}
}

func printTasks(out io.Writer, tasks []model.Task) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPROGRESS\tSIZE\tSPEED\tETA\tNAME")
	for _, task := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%5.1f%%\t%s\t%s\t%s\t%s\n",
			task.ID,
			task.Type,
			task.Status,
			task.Progress,
			sizeColumn(task),
			speedColumn(task),
			etaColumn(task),
			nameColumn(task),
		)
	}
	_ = w.Flush()
}

func sizeColumn(task model.Task) string {
	if task.TotalSize <= 0 {
		return fmt.Sprintf("%d/%d files", task.ProcessedFiles, task.TotalFiles)
	}
	return humanize.IBytes(uint64(task.ProcessedSize)) + " / " + humanize.IBytes(uint64(task.TotalSize))
}

func speedColumn(task model.Task) string {
	if task.Status != model.TaskRunning || task.Speed <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(task.Speed)) + "/s"
}

func etaColumn(task model.Task) string {
	if task.ETASeconds == nil || task.Status != model.TaskRunning {
		return "-"
	}
	return (time.Duration(*task.ETASeconds) * time.Second).String()
}

func nameColumn(task model.Task) string {
	name := task.Name
	if task.CurrentFile != "" && task.Status.IsActive() {
		name += " [" + task.CurrentFile + "]"
	}
	if task.Error != "" {
		name += " error: " + task.Error
	}
	return name
}

func printTask(out io.Writer, task model.Task) {
	fmt.Fprintf(out, "task %s %s %s", task.ID, task.Type, task.Status)
	if task.TotalSize > 0 {
		fmt.Fprintf(out, " %.1f%% of %s", task.Progress, humanize.IBytes(uint64(task.TotalSize)))
	}
	if task.Error != "" {
		fmt.Fprintf(out, ": %s", task.Error)
	}
	fmt.Fprintln(out)
}
