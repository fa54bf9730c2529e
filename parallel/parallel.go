// Package parallel 静态分块的并行执行工具：每个worker处理一段连续的数据，
// 共享输入只读，worker之间不通信，全部完成后按分块顺序拼接结果。
package parallel

import (
	"context"
	"math/rand"
	"runtime"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// 进度日志间隔
const PROGRESS_INTERVAL = 10 * time.Second

// Range 左闭右开区间 [Begin, End)
type Range struct {
	Begin, End int
}

func (r Range) Len() int {
	return r.End - r.Begin
}

// Split 将n个元素切成parts段连续区间，前 n%parts 段各多一个元素
// parts大于n时末尾为空区间
func Split(n, parts int) []Range {
	if parts <= 0 {
		parts = 1
	}
	ranges := make([]Range, parts)
	size, extra := n/parts, n%parts
	begin := 0
	for i := range ranges {
		end := begin + size
		if i < extra {
			end++
		}
		ranges[i] = Range{Begin: begin, End: end}
		begin = end
	}
	return ranges
}

// Seeds 由主种子为每个worker派生独立种子
// 分块数不变时结果可复现
func Seeds(seed int64, parts int) []int64 {
	master := rand.New(rand.NewSource(seed))
	seeds := make([]int64, parts)
	for i := range seeds {
		seeds[i] = master.Int63()
	}
	return seeds
}

// Workers 非正数表示使用全部CPU
func Workers(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Run 每个分块以独立种子执行一次fn并等待全部完成，首个错误会取消其余分块并返回
func Run(ctx context.Context, n, workers int, seed int64, fn func(ctx context.Context, chunk int, r Range, seed int64) error) error {
	ranges := Split(n, Workers(workers))
	seeds := Seeds(seed, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			return fn(gctx, i, r, seeds[i])
		})
	}
	return g.Wait()
}

// Progress 多个worker共同累加的进度计数，定期输出日志
type Progress struct {
	label   string
	total   int64
	counter *xsync.Counter
	done    chan struct{}
}

func NewProgress(label string, total int, interval time.Duration) *Progress {
	p := &Progress{
		label:   label,
		total:   int64(total),
		counter: xsync.NewCounter(),
		done:    make(chan struct{}),
	}
	if interval > 0 {
		go p.report(interval)
	}
	return p
}

func (p *Progress) Add(n int) {
	p.counter.Add(int64(n))
}

func (p *Progress) Value() int64 {
	return p.counter.Value()
}

func (p *Progress) report(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			log.Infof("%s: %d/%d", p.label, p.counter.Value(), p.total)
		}
	}
}

// Close 停止日志输出
func (p *Progress) Close() {
	close(p.done)
	log.Debugf("%s: %d/%d done", p.label, p.counter.Value(), p.total)
}
