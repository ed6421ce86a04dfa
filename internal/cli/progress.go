package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"go-file-transfer/internal/model"
	"go-file-transfer/internal/transfer"
)

// progressUI renders one bar per file. It implements transfer.Observer.
// Without a terminal it prints one line per finished file instead.
type progressUI struct {
	out        io.Writer
	progress   *mpb.Progress
	isTerminal bool
	totalFiles int
	started    atomic.Int32

	mu   sync.Mutex
	bars map[string]*mpb.Bar
}

func newProgressUI(out io.Writer, totalFiles int) *progressUI {
	ui := &progressUI{
		out:        out,
		totalFiles: totalFiles,
		bars:       make(map[string]*mpb.Bar),
	}

	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		ui.isTerminal = true
		ui.progress = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	}
	return ui
}

func (u *progressUI) FileStarted(file transfer.PlannedFile, plan transfer.ChunkPlan) {
	index := u.started.Add(1)
	if !u.isTerminal {
		return
	}

	label := fmt.Sprintf("[%d/%d] %s", index, u.totalFiles, file.Path)
	if plan.Chunked() {
		label += fmt.Sprintf(" (%d chunks)", plan.TotalChunks)
	}

	bar := u.progress.New(file.Size,
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding(" ").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(label, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.AverageSpeed(decor.SizeB1024(0), "% .1f", decor.WCSyncSpace),
		),
	)

	u.mu.Lock()
	u.bars[file.Path] = bar
	u.mu.Unlock()
}

func (u *progressUI) FileProgress(file transfer.PlannedFile, n int64) {
	if bar := u.bar(file.Path); bar != nil {
		bar.IncrInt64(n)
	}
}

func (u *progressUI) FileFinished(result transfer.FileResult) {
	bar := u.bar(result.File.Path)
	if bar != nil {
		if result.Outcome == model.FileOutcomeFailed {
			bar.Abort(false)
		} else {
			bar.SetTotal(-1, true)
		}
		return
	}

	switch result.Outcome {
	case model.FileOutcomeSkipped:
		fmt.Fprintf(u.out, "skipped  %s\n", result.File.Path)
	case model.FileOutcomeFailed:
		fmt.Fprintf(u.out, "failed   %s: %v\n", result.File.Path, result.Err)
	default:
		fmt.Fprintf(u.out, "uploaded %s (%s)\n", result.File.Path, humanize.IBytes(uint64(result.File.Size)))
	}
}

// Wait flushes the bars. Bars of files that never finished are dropped.
func (u *progressUI) Wait() {
	if u.progress == nil {
		return
	}

	u.mu.Lock()
	for _, bar := range u.bars {
		if !bar.Completed() {
			bar.Abort(false)
		}
	}
	u.mu.Unlock()

	u.progress.Wait()
}

func (u *progressUI) bar(path string) *mpb.Bar {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bars[path]
}
