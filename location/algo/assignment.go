package algo

import (
	"fmt"
	"math/rand"

	"github.com/golang/geo/r2"
)

// State 分配求解器的状态
type State int

const (
	SAMPLE State = iota
	RELAX
	DISCRETIZE
	EVALUATE
	ACCEPT
	RETRY
	FAIL
)

func (s State) String() string {
	switch s {
	case SAMPLE:
		return "SAMPLE"
	case RELAX:
		return "RELAX"
	case DISCRETIZE:
		return "DISCRETIZE"
	case EVALUATE:
		return "EVALUATE"
	case ACCEPT:
		return "ACCEPT"
	case RETRY:
		return "RETRY"
	case FAIL:
		return "FAIL"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// AssignmentProblem 一段由锚点夹住的次要活动链
//
//	Origin -[Modes[0]]-> Purposes[0] -[Modes[1]]-> ... -> Purposes[n-1] -[Modes[n]]-> Destination
//
// 起点或终点缺失时（链首/链尾问题）少一段
type AssignmentProblem struct {
	Origin      *r2.Point
	Destination *r2.Point
	// 每段的出行方式、出行时间/s、已知距离/m（0表示需要采样）
	Modes       []string
	TravelTimes []float64
	Distances   []float64
	// 每个次要活动的出行目的
	Purposes []string
}

// Size 需要求解的次要活动数
func (p *AssignmentProblem) Size() int {
	return len(p.Purposes)
}

// Legs 出行段数
func (p *AssignmentProblem) Legs() int {
	legs := len(p.Purposes)
	if p.Origin != nil && p.Destination != nil {
		legs++
	}
	return legs
}

func (p *AssignmentProblem) Validate() error {
	if p.Origin == nil && p.Destination == nil {
		return ErrNoAnchor
	}
	legs := p.Legs()
	if len(p.Modes) != legs || len(p.TravelTimes) != legs || len(p.Distances) != legs {
		return fmt.Errorf("%w: %d legs but %d modes, %d travel times, %d distances",
			ErrShapeMismatch, legs, len(p.Modes), len(p.TravelTimes), len(p.Distances))
	}
	return nil
}

// AssignmentResult 最终（或最后一次）离散化结果，Valid标记是否满足阈值
type AssignmentResult struct {
	Valid          bool
	Iterations     int
	State          State
	Distances      []float64
	Relaxation     RelaxationResult
	Discretization DiscretizationResult
	Objective      ObjectiveResult
}

// AssignmentSolver 采样-松弛-离散化-评估 的循环，最多maximumIterations轮
type AssignmentSolver struct {
	sampler           *DistanceSampler
	relaxation        *GravityChainSolver
	discretization    *DiscretizationSolver
	objective         *DiscretizationErrorObjective
	maximumIterations int
}

func NewAssignmentSolver(
	sampler *DistanceSampler,
	relaxation *GravityChainSolver,
	discretization *DiscretizationSolver,
	objective *DiscretizationErrorObjective,
	maximumIterations int,
) *AssignmentSolver {
	if maximumIterations <= 0 {
		maximumIterations = DEFAULT_ASSIGNMENT_ITERATIONS
	}
	return &AssignmentSolver{
		sampler:           sampler,
		relaxation:        relaxation,
		discretization:    discretization,
		objective:         objective,
		maximumIterations: maximumIterations,
	}
}

// Solve 无错误时总返回完整的离散化结果，全部轮次都不满足阈值时返回最后一轮且Valid为false
// 返回的错误均为输入问题，不可重试
func (s *AssignmentSolver) Solve(problem *AssignmentProblem, random *rand.Rand) (AssignmentResult, error) {
	if err := problem.Validate(); err != nil {
		return AssignmentResult{}, err
	}
	result := AssignmentResult{}
	if problem.Size() == 0 {
		result.Valid, result.State = true, ACCEPT
		return result, nil
	}
	var err error
	state := SAMPLE
	for {
		switch state {
		case SAMPLE:
			result.Iterations++
			if result.Distances, err = s.sample(problem, random); err != nil {
				return AssignmentResult{}, err
			}
			state = RELAX
		case RELAX:
			if result.Relaxation, err = s.relaxation.Solve(problem.Origin, problem.Destination, result.Distances, random); err != nil {
				return AssignmentResult{}, err
			}
			state = DISCRETIZE
		case DISCRETIZE:
			if result.Discretization, err = s.discretization.Solve(problem.Purposes, result.Relaxation.Locations); err != nil {
				return AssignmentResult{}, err
			}
			state = EVALUATE
		case EVALUATE:
			if result.Objective, err = s.objective.Evaluate(
				problem.Origin, problem.Destination,
				problem.Modes, result.Distances, result.Discretization.Locations,
			); err != nil {
				return AssignmentResult{}, err
			}
			switch {
			case result.Objective.Valid:
				state = ACCEPT
			case result.Iterations < s.maximumIterations:
				state = RETRY
			default:
				state = FAIL
			}
		case RETRY:
			state = SAMPLE
		case ACCEPT:
			result.Valid, result.State = true, ACCEPT
			return result, nil
		case FAIL:
			result.Valid, result.State = false, FAIL
			return result, nil
		}
	}
}

// 采样所有未知距离；两端锚点都已知时拒绝无法闭合的组合（多边形不等式），
// 重试用尽后保留最后一次采样，由评估阶段判定无效
func (s *AssignmentSolver) sample(problem *AssignmentProblem, random *rand.Rand) ([]float64, error) {
	distances := make([]float64, problem.Legs())
	unknown := false
	for _, d := range problem.Distances {
		if d <= 0 {
			unknown = true
			break
		}
	}
	direct := -1.0
	if problem.Origin != nil && problem.Destination != nil {
		direct = problem.Destination.Sub(*problem.Origin).Norm()
	}
	for attempt := 0; ; attempt++ {
		for j := range distances {
			if problem.Distances[j] > 0 {
				distances[j] = problem.Distances[j]
				continue
			}
			d, err := s.sampler.Sample(problem.Modes[j], problem.TravelTimes[j], random)
			if err != nil {
				return nil, err
			}
			distances[j] = d
		}
		if !unknown || direct < 0 || feasible(distances, direct) || attempt+1 >= s.sampler.MaximumIterations() {
			return distances, nil
		}
	}
}

// 链能闭合：总长不小于锚点直线距离，且最长一段不超过其余各段与直线距离之和
func feasible(distances []float64, direct float64) bool {
	total, longest := 0.0, 0.0
	for _, d := range distances {
		total += d
		if d > longest {
			longest = d
		}
	}
	return total >= direct && 2*longest <= total+direct
}
