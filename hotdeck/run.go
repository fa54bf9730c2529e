package hotdeck

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"git.fiblab.net/sim/synthesis/parallel"
)

// RunOptions 并行匹配参数
type RunOptions struct {
	// worker数，非正数表示全部CPU
	Workers int
	Seed    int64
	// 进度日志间隔，0表示不输出
	ProgressInterval time.Duration
}

// Run 将目标表切成连续分块并行匹配，按分块顺序拼接结果
// 种子与worker数相同时结果相同
func Run(ctx context.Context, target *Table, matcher *Matcher, options RunOptions) (*Result, error) {
	if err := target.Validate(matcher.Fields(), false); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	workers := parallel.Workers(options.Workers)
	results := make([]*Result, workers)
	progress := parallel.NewProgress("hot deck matching", target.Len(), options.ProgressInterval)
	defer progress.Close()
	err := parallel.Run(ctx, target.Len(), workers, options.Seed, func(ctx context.Context, chunk int, r parallel.Range, seed int64) error {
		result, err := matcher.match(ctx, target, r.Begin, r.End, rand.New(rand.NewSource(seed)))
		if err != nil {
			return err
		}
		results[chunk] = result
		progress.Add(r.Len())
		return nil
	})
	if err != nil {
		return nil, err
	}
	result := concat(results, len(matcher.Fields())-matcher.mandatory)
	share := 0.0
	if result.Len() > 0 {
		share = 100 * float64(len(result.Unmatched)) / float64(result.Len())
	}
	log.Infof("matched %d of %d rows, %d unmatched (%.2f%%), relaxation %v",
		result.Matched(), result.Len(), len(result.Unmatched), share, result.Relaxation)
	return result, nil
}
