package location

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"git.fiblab.net/sim/synthesis/location/algo"
	"git.fiblab.net/sim/synthesis/parallel"
	"github.com/samber/lo"
)

// Config 次要活动地点分配的参数
type Config struct {
	// worker数，非正数表示全部CPU
	Workers int
	Seed    int64
	// 每个问题的采样-评估轮数上限
	MaximumIterations int
	// 距离采样拒绝重试上限
	SamplerMaximumIterations int
	Relaxation               algo.GravityChainSolver
	// 出行方式 -> 离散化误差阈值/m
	Thresholds map[string]float64
	// 出行方式 -> 距离分布重加权系数
	ResamplingFactors map[string]float64
}

// DefaultConfig 参数默认值
func DefaultConfig() Config {
	return Config{
		MaximumIterations:        algo.DEFAULT_ASSIGNMENT_ITERATIONS,
		SamplerMaximumIterations: algo.DEFAULT_SAMPLER_ITERATIONS,
		Relaxation:               *algo.NewGravityChainSolver(),
		Thresholds: map[string]float64{
			"car": 200, "car_passenger": 200, "pt": 200,
			"bike": 100, "walk": 100, "taxi": 200,
		},
		ResamplingFactors: map[string]float64{
			"car": 0, "car_passenger": 0, "pt": 0.2, "walk": -0.2, "taxi": 0,
		},
	}
}

// Output 分配结果，Locations按 (PersonID, TripIndex) 排序
type Output struct {
	Locations   []LocationResult
	Convergence []ConvergenceRecord
}

// SuccessRate 满足阈值的问题占比
func (o *Output) SuccessRate() float64 {
	if len(o.Convergence) == 0 {
		return 0
	}
	valid := lo.CountBy(o.Convergence, func(c ConvergenceRecord) bool { return c.Valid })
	return float64(valid) / float64(len(o.Convergence))
}

// Engine 批量分配次要活动地点
// 距离分布与候选地点在构建后只读，由全部worker共享
type Engine struct {
	config        Config
	distributions algo.Distributions
	candidates    *algo.CandidateIndex
}

func NewEngine(config Config, distributions algo.Distributions, candidates *algo.CandidateIndex) (*Engine, error) {
	if candidates == nil {
		return nil, fmt.Errorf("%w: nil candidate index", algo.ErrNoCandidates)
	}
	if err := distributions.Validate(); err != nil {
		return nil, err
	}
	if len(config.Thresholds) == 0 {
		return nil, fmt.Errorf("%w: no discretization thresholds", algo.ErrUnknownMode)
	}
	defaults := algo.NewGravityChainSolver()
	if config.Relaxation.Alpha <= 0 {
		config.Relaxation.Alpha = defaults.Alpha
	}
	if config.Relaxation.Eps <= 0 {
		config.Relaxation.Eps = defaults.Eps
	}
	if config.Relaxation.MaximumIterations <= 0 {
		config.Relaxation.MaximumIterations = defaults.MaximumIterations
	}
	return &Engine{
		config:        config,
		distributions: distributions.Resample(config.ResamplingFactors),
		candidates:    candidates,
	}, nil
}

// Config 返回生效的参数
func (e *Engine) Config() Config {
	return e.config
}

// WithSeed 返回使用另一随机种子的引擎，共享参考数据
func (e *Engine) WithSeed(seed int64) *Engine {
	c := *e
	c.config.Seed = seed
	return &c
}

// 每个worker独占的求解器
func (e *Engine) newSolver() *algo.AssignmentSolver {
	relaxation := e.config.Relaxation
	return algo.NewAssignmentSolver(
		algo.NewDistanceSampler(e.distributions, e.config.SamplerMaximumIterations),
		&relaxation,
		algo.NewDiscretizationSolver(e.candidates),
		algo.NewDiscretizationErrorObjective(e.config.Thresholds),
		e.config.MaximumIterations,
	)
}

// Run 为每个人的全部次要活动分配地点，trips须按 (PersonID, TripIndex) 排序
// 按人员分块并行，任一错误中止整批
func (e *Engine) Run(ctx context.Context, trips []Trip, anchors map[int64]*Anchors) (*Output, error) {
	if err := checkSorted(trips); err != nil {
		return nil, err
	}
	// 每个人在trips中的起始位置
	offsets := make([]int, 0)
	for i := range trips {
		if i == 0 || trips[i].PersonID != trips[i-1].PersonID {
			offsets = append(offsets, i)
		}
	}
	persons := len(offsets)
	offsets = append(offsets, len(trips))

	workers := parallel.Workers(e.config.Workers)
	locations := make([][]LocationResult, workers)
	convergence := make([][]ConvergenceRecord, workers)
	expected := make([]int, workers)
	progress := parallel.NewProgress("assigning secondary locations", persons, parallel.PROGRESS_INTERVAL)
	defer progress.Close()

	err := parallel.Run(ctx, persons, workers, e.config.Seed, func(ctx context.Context, chunk int, r parallel.Range, seed int64) error {
		random := rand.New(rand.NewSource(seed))
		solver := e.newSolver()
		for person := r.Begin; person < r.End; person++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			problems, err := FindAssignmentProblems(trips[offsets[person]:offsets[person+1]], anchors)
			if err != nil {
				return err
			}
			for _, problem := range problems {
				result, err := solver.Solve(&problem.AssignmentProblem, random)
				if err != nil {
					return fmt.Errorf("person %d trip %d: %w", problem.PersonID, problem.TripIndex, err)
				}
				for i, id := range result.Discretization.Identifiers {
					locations[chunk] = append(locations[chunk], LocationResult{
						PersonID:      problem.PersonID,
						TripIndex:     problem.TripIndex + i,
						DestinationID: id,
						Location:      result.Discretization.Locations[i],
					})
				}
				convergence[chunk] = append(convergence[chunk], ConvergenceRecord{
					PersonID:   problem.PersonID,
					Valid:      result.Valid,
					Size:       problem.Size(),
					Iterations: result.Iterations,
				})
				expected[chunk] += problem.Size()
			}
			progress.Add(1)
		}
		log.Debugf("chunk %d: %d persons, %d locations", chunk, r.Len(), len(locations[chunk]))
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &Output{
		Locations:   lo.Flatten(locations),
		Convergence: lo.Flatten(convergence),
	}
	sort.SliceStable(out.Locations, func(i, j int) bool {
		a, b := &out.Locations[i], &out.Locations[j]
		if a.PersonID != b.PersonID {
			return a.PersonID < b.PersonID
		}
		return a.TripIndex < b.TripIndex
	})
	if want := lo.Sum(expected); len(out.Locations) != want {
		return nil, fmt.Errorf("%w: %d locations for %d secondary activities", ErrRowCountMismatch, len(out.Locations), want)
	}
	log.Infof("assigned %d locations for %d persons, success rate %.4f", len(out.Locations), persons, out.SuccessRate())
	return out, nil
}
