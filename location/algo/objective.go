package algo

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// ObjectiveResult 离散化误差评估
type ObjectiveResult struct {
	Valid bool
	// 超出阈值部分之和/m，越小越好
	Objective float64
	// 每段 |实际距离 - 采样距离|
	Errors []float64
}

// DiscretizationErrorObjective 每段离散化后的距离误差不超过对应出行方式的阈值时，整条链才有效
type DiscretizationErrorObjective struct {
	Thresholds map[string]float64
}

func NewDiscretizationErrorObjective(thresholds map[string]float64) *DiscretizationErrorObjective {
	return &DiscretizationErrorObjective{Thresholds: thresholds}
}

// Evaluate 比较每段采样距离与链 origin -> locations... -> destination 上的实际距离
// 缺失的锚点不参与构链，其余每一段都计入评估
func (o *DiscretizationErrorObjective) Evaluate(
	origin, destination *r2.Point,
	modes []string, sampled []float64, locations []r2.Point,
) (ObjectiveResult, error) {
	if len(modes) != len(sampled) {
		return ObjectiveResult{}, fmt.Errorf("%w: %d modes for %d distances", ErrShapeMismatch, len(modes), len(sampled))
	}
	chain := make([]*r2.Point, 0, len(locations)+2)
	if origin != nil {
		chain = append(chain, origin)
	}
	for i := range locations {
		chain = append(chain, &locations[i])
	}
	if destination != nil {
		chain = append(chain, destination)
	}
	if len(chain)-1 != len(sampled) {
		return ObjectiveResult{}, fmt.Errorf("%w: %d legs for %d sampled distances", ErrShapeMismatch, len(chain)-1, len(sampled))
	}
	result := ObjectiveResult{Valid: true, Errors: make([]float64, len(sampled))}
	for j := range sampled {
		threshold, ok := o.Thresholds[modes[j]]
		if !ok {
			return ObjectiveResult{}, fmt.Errorf("%w: no discretization threshold for %q", ErrUnknownMode, modes[j])
		}
		realized := chain[j+1].Sub(*chain[j]).Norm()
		e := math.Abs(realized - sampled[j])
		result.Errors[j] = e
		if e > threshold {
			result.Valid = false
			result.Objective += e - threshold
		}
	}
	return result, nil
}
