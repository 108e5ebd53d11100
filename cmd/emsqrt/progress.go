package main

import (
	"io"

	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"
)

// progressBar drives a single mpb bar from the scheduler's OnBlock
// callback. The TE block count isn't known until after planning, which
// happens inside engine.Run, so the bar starts against a provisional
// total and grows it as blocks complete; done() pins the total to
// whatever was actually reached so the bar reads 100% at exit.
type progressBar struct {
	progress *mpb.Progress
	bar      *mpb.Bar
	total    int64
	count    int64
}

const progressProvisionalTotal = 64

func newProgressBar(w io.Writer) *progressBar {
	p := mpb.New(mpb.WithOutput(w))
	total := int64(progressProvisionalTotal)
	bar := p.AddBar(total,
		mpb.PrependDecorators(decor.Name("emsqrt", decor.WC{W: 8})),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &progressBar{progress: p, bar: bar, total: total}
}

func (pb *progressBar) increment() {
	pb.count++
	if pb.count > pb.total {
		pb.total *= 2
		pb.bar.SetTotal(pb.total, false)
	}
	pb.bar.Increment()
}

func (pb *progressBar) done() {
	pb.bar.SetTotal(pb.count, true)
	pb.progress.Wait()
}
