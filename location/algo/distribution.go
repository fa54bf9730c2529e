package algo

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Distribution 单一出行距离的经验分布
// Edges为分箱边界（n+1个），CDF为每个分箱右端的累计概率（n个，末项为1）
type Distribution struct {
	Edges []float64 `json:"edges" bson:"edges"`
	CDF   []float64 `json:"cdf" bson:"cdf"`
}

// NewDistribution 检查分箱并将CDF归一化到1
func NewDistribution(edges, cdf []float64) (*Distribution, error) {
	d := &Distribution{
		Edges: append([]float64(nil), edges...),
		CDF:   append([]float64(nil), cdf...),
	}
	if err := d.normalize(); err != nil {
		return nil, err
	}
	return d, nil
}

// DistributionFromSamples 由调查出行距离（可带权重）构建等宽分箱的分布
func DistributionFromSamples(distances, weights []float64, bins int) (*Distribution, error) {
	if len(distances) == 0 || bins <= 0 {
		return nil, fmt.Errorf("%w: %d samples in %d bins", ErrInvalidDistribution, len(distances), bins)
	}
	if weights != nil && len(weights) != len(distances) {
		return nil, fmt.Errorf("%w: %d weights for %d distances", ErrShapeMismatch, len(weights), len(distances))
	}
	// stat.Histogram要求x升序，权重随之重排
	order := make([]int, len(distances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return distances[order[i]] < distances[order[j]] })
	x := lo.Map(order, func(i int, _ int) float64 { return distances[i] })
	var w []float64
	if weights != nil {
		w = lo.Map(order, func(i int, _ int) float64 { return weights[i] })
	}
	low, high := x[0], x[len(x)-1]
	if high <= low {
		high = low + 1
	}
	edges := floats.Span(make([]float64, bins+1), low, high)
	// 最后一个边界是开区间，向上取一个ulp以包含最大值
	edges[bins] = math.Nextafter(high, math.Inf(1))
	counts := stat.Histogram(nil, edges, x, w)
	cdf := floats.CumSum(make([]float64, bins), counts)
	return NewDistribution(edges, cdf)
}

func (d *Distribution) normalize() error {
	n := len(d.CDF)
	if n == 0 || len(d.Edges) != n+1 {
		return fmt.Errorf("%w: %d edges for %d bins", ErrInvalidDistribution, len(d.Edges), n)
	}
	if !sort.Float64sAreSorted(d.Edges) {
		return fmt.Errorf("%w: edges are not sorted", ErrInvalidDistribution)
	}
	last := d.CDF[n-1]
	if !(last > 0) || math.IsInf(last, 0) {
		return fmt.Errorf("%w: cdf ends at %v", ErrInvalidDistribution, last)
	}
	running := 0.0
	for i, v := range d.CDF {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: cdf[%d] = %v", ErrInvalidDistribution, i, v)
		}
		// 保证单调不减；已归一化的分布不再写入，可被并发读取
		running = math.Max(running, v/last)
		if i == n-1 {
			running = 1
		}
		if d.CDF[i] != running {
			d.CDF[i] = running
		}
	}
	return nil
}

// Bins 分箱数
func (d *Distribution) Bins() int {
	return len(d.CDF)
}

// Midpoint 第i个分箱的中点
func (d *Distribution) Midpoint(i int) float64 {
	return (d.Edges[i] + d.Edges[i+1]) / 2
}

// Quantile 累计概率首次超过u的分箱中点
func (d *Distribution) Quantile(u float64) float64 {
	n := len(d.CDF)
	i := sort.Search(n, func(i int) bool { return d.CDF[i] > u })
	return d.Midpoint(lo.Clamp(i, 0, n-1))
}

// Resample 对概率密度重新加权（用于标定），返回新的分布
// factor>0时长距离权重上升，factor<0时短距离权重上升
func (d *Distribution) Resample(factor float64) *Distribution {
	n := float64(len(d.CDF))
	cdf := make([]float64, len(d.CDF))
	for i, v := range d.CDF {
		k := float64(i+1) / n
		if factor >= 0 {
			cdf[i] = v * (1 + factor*k)
		} else {
			cdf[i] = v * (1 + math.Abs(factor) - math.Abs(factor)*k)
		}
	}
	out := &Distribution{Edges: append([]float64(nil), d.Edges...), CDF: cdf}
	if err := out.normalize(); err != nil {
		// 输入已经合法，重加权不会破坏
		log.Panicf("resample broke distribution: %v", err)
	}
	return out
}

// ModeDistribution 某一出行方式的距离分布，可按出行时间分段
type ModeDistribution struct {
	// 出行时间上界/s，为空时只有一个分布
	Bounds        []float64       `json:"bounds,omitempty" bson:"bounds,omitempty"`
	Distributions []*Distribution `json:"distributions" bson:"distributions"`
}

// Validate 检查并归一化全部分段
func (m *ModeDistribution) Validate() error {
	if len(m.Distributions) == 0 {
		return fmt.Errorf("%w: no distributions", ErrInvalidDistribution)
	}
	if len(m.Bounds) > 0 && len(m.Bounds) != len(m.Distributions) {
		return fmt.Errorf("%w: %d bounds for %d distributions", ErrShapeMismatch, len(m.Bounds), len(m.Distributions))
	}
	if !sort.Float64sAreSorted(m.Bounds) {
		return fmt.Errorf("%w: bounds are not sorted", ErrInvalidDistribution)
	}
	for _, d := range m.Distributions {
		if d == nil {
			return fmt.Errorf("%w: nil distribution", ErrInvalidDistribution)
		}
		if err := d.normalize(); err != nil {
			return err
		}
	}
	return nil
}

// Select 出行时间所在的第一个分段的分布
func (m *ModeDistribution) Select(travelTime float64) *Distribution {
	if len(m.Bounds) == 0 {
		return m.Distributions[0]
	}
	i := sort.SearchFloat64s(m.Bounds, travelTime)
	return m.Distributions[lo.Clamp(i, 0, len(m.Distributions)-1)]
}

// Distributions 出行方式 -> 距离分布
type Distributions map[string]*ModeDistribution

// Validate 检查全部出行方式
func (ds Distributions) Validate() error {
	for mode, m := range ds {
		if m == nil {
			return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mode %s: %w", mode, err)
		}
	}
	return nil
}

// Resample 按出行方式的标定系数重加权，未给出系数的方式保持不变
func (ds Distributions) Resample(factors map[string]float64) Distributions {
	out := make(Distributions, len(ds))
	for mode, m := range ds {
		factor, ok := factors[mode]
		if !ok || factor == 0 {
			out[mode] = m
			continue
		}
		out[mode] = &ModeDistribution{
			Bounds: m.Bounds,
			Distributions: lo.Map(m.Distributions, func(d *Distribution, _ int) *Distribution {
				return d.Resample(factor)
			}),
		}
	}
	return out
}
