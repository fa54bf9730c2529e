package algo

import (
	"fmt"
	"math"
	"math/rand"
)

// DistanceSampler 按出行方式的经验分布做逆CDF采样
type DistanceSampler struct {
	distributions Distributions
	// 拒绝退化样本（非正距离）时的最大重试次数
	maximumIterations int
}

func NewDistanceSampler(distributions Distributions, maximumIterations int) *DistanceSampler {
	if maximumIterations <= 0 {
		maximumIterations = DEFAULT_SAMPLER_ITERATIONS
	}
	return &DistanceSampler{distributions: distributions, maximumIterations: maximumIterations}
}

func (s *DistanceSampler) MaximumIterations() int {
	return s.maximumIterations
}

// Sample 为某一出行方式采样一段距离，分布按出行时间分段时由travelTime选段
func (s *DistanceSampler) Sample(mode string, travelTime float64, random *rand.Rand) (float64, error) {
	m, ok := s.distributions[mode]
	if !ok || m == nil {
		return 0, fmt.Errorf("%w: no distance distribution for %q", ErrUnknownMode, mode)
	}
	d := m.Select(travelTime)
	for i := 0; i < s.maximumIterations; i++ {
		distance := d.Quantile(random.Float64())
		if distance > 0 && !math.IsNaN(distance) && !math.IsInf(distance, 0) {
			return distance, nil
		}
	}
	return 0, fmt.Errorf("%w: mode %q after %d draws", ErrSamplingExhausted, mode, s.maximumIterations)
}
