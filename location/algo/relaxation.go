package algo

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
)

// GravityChainSolver 将链上的中间活动视为弹簧连接的质点，弹簧原长为采样距离
//
//	origin o----o----o----o destination
//	            ^ 中间活动，只有这些点需要求解
type GravityChainSolver struct {
	// 阻尼步长
	Alpha float64
	// 收敛阈值：最大单段距离误差/m
	Eps float64
	// 初始化时垂直于锚点连线的最大偏移/m
	LateralDeviation float64
	// 迭代次数上限
	MaximumIterations int
}

func NewGravityChainSolver() *GravityChainSolver {
	return &GravityChainSolver{
		Alpha:             DEFAULT_ALPHA,
		Eps:               DEFAULT_EPS,
		LateralDeviation:  DEFAULT_LATERAL_DEVIATION,
		MaximumIterations: DEFAULT_RELAX_ITERATIONS,
	}
}

// RelaxationResult 连续坐标求解结果，不代表最终是否可接受
type RelaxationResult struct {
	Locations  []r2.Point
	Iterations int
	// 最大单段距离误差/m
	Residual  float64
	Converged bool
}

// Solve 求解链上中间点的连续坐标，链首/链尾问题可缺一个锚点
// 两端锚点都在时len(distances)段连接len(distances)-1个点，只有一端时每段对应一个点
func (s *GravityChainSolver) Solve(origin, destination *r2.Point, distances []float64, random *rand.Rand) (RelaxationResult, error) {
	switch {
	case origin == nil && destination == nil:
		return RelaxationResult{}, ErrNoAnchor
	case origin == nil || destination == nil:
		if len(distances) == 0 {
			return RelaxationResult{}, fmt.Errorf("%w: tail chain without legs", ErrShapeMismatch)
		}
		return s.solveTail(origin, destination, distances, random), nil
	case len(distances) < 2:
		return RelaxationResult{}, fmt.Errorf("%w: %d legs between two anchors", ErrShapeMismatch, len(distances))
	case len(distances) == 2:
		return s.solveTwoLegs(*origin, *destination, distances[0], distances[1], random), nil
	default:
		return s.solveGravity(*origin, *destination, distances, random), nil
	}
}

// 单侧锚点：从已知锚点出发逐段随机方向延伸
func (s *GravityChainSolver) solveTail(origin, destination *r2.Point, distances []float64, random *rand.Rand) RelaxationResult {
	n := len(distances)
	locations := make([]r2.Point, n)
	if origin != nil {
		prev := *origin
		for i := 0; i < n; i++ {
			prev = prev.Add(randomDirection(random).Mul(distances[i]))
			locations[i] = prev
		}
	} else {
		// 终点已知：第i段连接点i与点i+1，最后一段连接终点
		next := *destination
		for i := n - 1; i >= 0; i-- {
			next = next.Add(randomDirection(random).Mul(distances[i]))
			locations[i] = next
		}
	}
	return RelaxationResult{Locations: locations, Converged: true}
}

// 两段一点：圆交点闭式解，无交点时取锚点连线上的最小二乘点
func (s *GravityChainSolver) solveTwoLegs(origin, destination r2.Point, d0, d1 float64, random *rand.Rand) RelaxationResult {
	axis := destination.Sub(origin)
	direct := axis.Norm()
	var p r2.Point
	switch {
	case direct < COINCIDENT_DISTANCE:
		// 往返：任意方向，半径取两段均值
		p = origin.Add(randomDirection(random).Mul((d0 + d1) / 2))
	case d0+d1 <= direct:
		// 两圆相离：落在线段上
		u := axis.Mul(1 / direct)
		p = origin.Add(u.Mul((direct + d0 - d1) / 2))
	case d0 >= d1+direct:
		// 终点圆含于起点圆：落在终点外侧
		u := axis.Mul(1 / direct)
		p = origin.Add(u.Mul((d0 + d1 + direct) / 2))
	case d1 >= d0+direct:
		// 起点圆含于终点圆：落在起点外侧
		u := axis.Mul(1 / direct)
		p = origin.Sub(u.Mul((d0 + d1 - direct) / 2))
	default:
		u := axis.Mul(1 / direct)
		a := (d0*d0 - d1*d1 + direct*direct) / (2 * direct)
		h := math.Sqrt(math.Max(0, d0*d0-a*a))
		side := u.Ortho()
		if random.Intn(2) == 0 {
			side = side.Mul(-1)
		}
		p = origin.Add(u.Mul(a)).Add(side.Mul(h))
	}
	residual := math.Max(
		math.Abs(p.Sub(origin).Norm()-d0),
		math.Abs(destination.Sub(p).Norm()-d1),
	)
	return RelaxationResult{
		Locations: []r2.Point{p},
		Residual:  residual,
		Converged: residual < s.Eps,
	}
}

func (s *GravityChainSolver) solveGravity(origin, destination r2.Point, distances []float64, random *rand.Rand) RelaxationResult {
	legs := len(distances)
	chain := s.initialize(origin, destination, distances, random)
	forces := make([]r2.Point, legs+1)
	best := RelaxationResult{Residual: math.Inf(1)}
	for iteration := 0; ; iteration++ {
		for i := range forces {
			forces[i] = r2.Point{}
		}
		residual := 0.0
		for j := 0; j < legs; j++ {
			v := chain[j+1].Sub(chain[j])
			length := v.Norm()
			var u r2.Point
			if length < COINCIDENT_DISTANCE {
				u = randomDirection(random)
			} else {
				u = v.Mul(1 / length)
			}
			e := length - distances[j]
			forces[j] = forces[j].Add(u.Mul(e))
			forces[j+1] = forces[j+1].Sub(u.Mul(e))
			residual = math.Max(residual, math.Abs(e))
		}
		if residual < best.Residual {
			best.Residual = residual
			best.Iterations = iteration
			best.Locations = append(best.Locations[:0], chain[1:legs]...)
		}
		if residual < s.Eps {
			best.Converged = true
			break
		}
		if iteration >= s.MaximumIterations {
			break
		}
		// 锚点固定，只移动中间点
		for i := 1; i < legs; i++ {
			chain[i] = chain[i].Add(forces[i].Mul(s.Alpha))
		}
	}
	return best
}

// 初始化：沿锚点连线按累计距离插值并加入垂直扰动；锚点重合时铺在经过锚点的圆上
func (s *GravityChainSolver) initialize(origin, destination r2.Point, distances []float64, random *rand.Rand) []r2.Point {
	legs := len(distances)
	total := 0.0
	for _, d := range distances {
		total += d
	}
	chain := make([]r2.Point, legs+1)
	chain[0], chain[legs] = origin, destination
	axis := destination.Sub(origin)
	direct := axis.Norm()
	cumulative := 0.0
	if direct < COINCIDENT_DISTANCE {
		if total <= 0 {
			for i := 1; i < legs; i++ {
				chain[i] = origin
			}
			return chain
		}
		u := randomDirection(random)
		radius := total / (2 * math.Pi)
		center := origin.Add(u.Mul(radius))
		for i := 1; i < legs; i++ {
			cumulative += distances[i-1]
			theta := 2 * math.Pi * cumulative / total
			chain[i] = center.Sub(u.Mul(radius * math.Cos(theta))).Add(u.Ortho().Mul(radius * math.Sin(theta)))
		}
		return chain
	}
	normal := axis.Mul(1 / direct).Ortho()
	for i := 1; i < legs; i++ {
		cumulative += distances[i-1]
		t := float64(i) / float64(legs)
		if total > 0 {
			t = cumulative / total
		}
		offset := (2*random.Float64() - 1) * s.LateralDeviation
		chain[i] = origin.Add(axis.Mul(t)).Add(normal.Mul(offset))
	}
	return chain
}

func randomDirection(random *rand.Rand) r2.Point {
	theta := 2 * math.Pi * random.Float64()
	return r2.Point{X: math.Cos(theta), Y: math.Sin(theta)}
}
