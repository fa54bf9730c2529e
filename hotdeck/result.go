package hotdeck

import (
	"fmt"
)

// Result 匹配结果，各切片按目标行对齐
type Result struct {
	TargetIDs []int64
	// 供体编号，未匹配为DEFAULT_ID
	DonorIDs []int64
	// 匹配所用谓词的序号，未匹配为-1
	Predicates []int
	// 未匹配的目标编号
	Unmatched []int64
	// 按放宽的偏好字段数统计的匹配行数
	Relaxation []int
}

func newResult(targetIDs []int64, preferences int) *Result {
	r := &Result{
		TargetIDs:  append([]int64(nil), targetIDs...),
		DonorIDs:   make([]int64, len(targetIDs)),
		Predicates: make([]int, len(targetIDs)),
		Unmatched:  make([]int64, 0),
		Relaxation: make([]int, preferences+1),
	}
	for i := range r.DonorIDs {
		r.DonorIDs[i] = DEFAULT_ID
		r.Predicates[i] = -1
	}
	return r
}

func (r *Result) Len() int {
	return len(r.TargetIDs)
}

// Matched 匹配成功的行数
func (r *Result) Matched() int {
	return r.Len() - len(r.Unmatched)
}

// 按顺序拼接各分块的结果
func concat(results []*Result, preferences int) *Result {
	out := newResult(nil, preferences)
	for _, r := range results {
		out.TargetIDs = append(out.TargetIDs, r.TargetIDs...)
		out.DonorIDs = append(out.DonorIDs, r.DonorIDs...)
		out.Predicates = append(out.Predicates, r.Predicates...)
		out.Unmatched = append(out.Unmatched, r.Unmatched...)
		for i, c := range r.Relaxation {
			out.Relaxation[i] += c
		}
	}
	return out
}

// RemoveUnmatched 删除没有供体的目标行，返回剩余行与被删除的编号，result须与target逐行对齐
func RemoveUnmatched(target *Table, result *Result) (*Table, []int64, error) {
	if result.Len() != target.Len() {
		return nil, nil, fmt.Errorf("%w: %d results for %d rows", ErrRowCountMismatch, result.Len(), target.Len())
	}
	kept := make([]int, 0, target.Len())
	removed := make([]int64, 0, len(result.Unmatched))
	for i, id := range target.IDs {
		if result.TargetIDs[i] != id {
			return nil, nil, fmt.Errorf("%w: row %d is %d in result but %d in table", ErrRowCountMismatch, i, result.TargetIDs[i], id)
		}
		if result.DonorIDs[i] == DEFAULT_ID {
			removed = append(removed, id)
		} else {
			kept = append(kept, i)
		}
	}
	out := target.Select(kept)
	if out.Len()+len(removed) != target.Len() || len(removed) != len(result.Unmatched) {
		return nil, nil, fmt.Errorf("%w: %d kept and %d removed of %d", ErrRowCountMismatch, out.Len(), len(removed), target.Len())
	}
	share := 0.0
	if target.Len() > 0 {
		share = 100 * float64(len(removed)) / float64(target.Len())
	}
	log.Infof("removed unmatched persons: %d (%.2f%%)", len(removed), share)
	return out, removed, nil
}
