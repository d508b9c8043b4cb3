package main

import (
	"io"
	"os"

	"github.com/dunamismax/flyimg/internal/transport"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// progressReporter draws upload and download bars on a terminal. On other
// writers it stays silent.
type progressReporter struct {
	out      io.Writer
	enabled  bool
	upload   *progressbar.ProgressBar
	download *progressbar.ProgressBar
}

func newProgressReporter(out io.Writer, quiet bool) *progressReporter {
	return &progressReporter{out: out, enabled: !quiet && isTerminal(out)}
}

func (p *progressReporter) onUpload(progress transport.UploadProgress) {
	if !p.enabled {
		return
	}
	if p.upload == nil {
		p.upload = p.newBar("uploading", progress.TotalBytes)
	}
	_ = p.upload.Set64(progress.SentBytes)
}

func (p *progressReporter) onDownload(progress transport.DownloadProgress) {
	if !p.enabled {
		return
	}
	if p.download == nil {
		p.finishUpload()
		p.download = p.newBar("downloading", progress.TotalBytes)
	}
	_ = p.download.Set64(progress.ReceivedBytes)
}

func (p *progressReporter) finishUpload() {
	if p.upload != nil {
		_ = p.upload.Finish()
	}
}

func (p *progressReporter) finish() {
	p.finishUpload()
	if p.download != nil {
		_ = p.download.Finish()
	}
}

func (p *progressReporter) newBar(description string, total int64) *progressbar.ProgressBar {
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(p.out, "\n") }),
	)
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
