package cli

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// progressReporter はステージごとにスピナー型のプログレスバーを表示します。
// 総件数が事前に分からないため件数のみを加算します。
type progressReporter struct {
	mu    sync.Mutex
	out   io.Writer
	stage string
	bar   *progressbar.ProgressBar
	seen  map[string]int
}

func newProgressReporter(out io.Writer) *progressReporter {
	return &progressReporter{out: out, seen: make(map[string]int)}
}

// OnProgress はFetchOptions.OnProgressに渡すコールバックです。ワーカーから並行に呼ばれます。
func (p *progressReporter) OnProgress(stage string, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if stage != p.stage || p.bar == nil {
		p.finishLocked()
		p.stage = stage
		p.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(stage),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionShowCount(),
		)
	}
	p.seen[stage] += count
	_ = p.bar.Add(count)
}

// Finish は表示中のバーを閉じます。
func (p *progressReporter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progressReporter) finishLocked() {
	if p.bar != nil {
		_ = p.bar.Finish()
		_, _ = io.WriteString(p.out, "\n")
		p.bar = nil
	}
}

// Counts はステージごとの累計件数を返します。
func (p *progressReporter) Counts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.seen))
	for k, v := range p.seen {
		out[k] = v
	}
	return out
}
