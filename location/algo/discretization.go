package algo

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
)

// Candidate 可作为次要活动地点的真实设施
type Candidate struct {
	ID       int64    `json:"id" bson:"id"`
	Location r2.Point `json:"location" bson:"location"`
}

type candidatePoint struct {
	index int
	p     orb.Point
}

func (c candidatePoint) Point() orb.Point {
	return c.p
}

// CandidateIndex 按出行目的组织的候选地点空间索引
// 构建后只读，可被多个worker共享
type CandidateIndex struct {
	candidates map[string][]Candidate
	trees      map[string]*quadtree.Quadtree
}

func NewCandidateIndex(candidates map[string][]Candidate) (*CandidateIndex, error) {
	index := &CandidateIndex{
		candidates: make(map[string][]Candidate, len(candidates)),
		trees:      make(map[string]*quadtree.Quadtree, len(candidates)),
	}
	for purpose, cs := range candidates {
		index.candidates[purpose] = cs
		if len(cs) == 0 {
			continue
		}
		points := make(orb.MultiPoint, len(cs))
		for i, c := range cs {
			points[i] = toOrb(c.Location)
		}
		tree := quadtree.New(points.Bound().Pad(1))
		// 坐标完全相同的设施只保留第一个，避免四叉树退化成链
		seen := make(map[orb.Point]struct{}, len(cs))
		for i, p := range points {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			if err := tree.Add(candidatePoint{index: i, p: p}); err != nil {
				return nil, fmt.Errorf("index candidate %d of %s: %w", cs[i].ID, purpose, err)
			}
		}
		if dup := len(cs) - len(seen); dup > 0 {
			log.Debugf("purpose %s: %d candidates share coordinates with another candidate", purpose, dup)
		}
		index.trees[purpose] = tree
	}
	return index, nil
}

// Purposes 有候选地点的出行目的
func (x *CandidateIndex) Purposes() []string {
	purposes := make([]string, 0, len(x.trees))
	for purpose := range x.trees {
		purposes = append(purposes, purpose)
	}
	return purposes
}

// Candidates 某一目的的全部候选地点
func (x *CandidateIndex) Candidates(purpose string) []Candidate {
	return x.candidates[purpose]
}

// Nearest 某一目的中距p最近（欧氏距离）的候选地点
func (x *CandidateIndex) Nearest(purpose string, p r2.Point) (Candidate, error) {
	tree, ok := x.trees[purpose]
	if !ok {
		return Candidate{}, fmt.Errorf("%w: %q", ErrNoCandidates, purpose)
	}
	found := tree.Find(toOrb(p))
	if found == nil {
		return Candidate{}, fmt.Errorf("%w: %q", ErrNoCandidates, purpose)
	}
	return x.candidates[purpose][found.(candidatePoint).index], nil
}

// DiscretizationResult 离散化后的设施及其真实坐标
type DiscretizationResult struct {
	Identifiers []int64
	Locations   []r2.Point
}

// DiscretizationSolver 将连续坐标吸附到最近的同目的设施
type DiscretizationSolver struct {
	index *CandidateIndex
}

func NewDiscretizationSolver(index *CandidateIndex) *DiscretizationSolver {
	return &DiscretizationSolver{index: index}
}

func (s *DiscretizationSolver) Solve(purposes []string, locations []r2.Point) (DiscretizationResult, error) {
	if len(purposes) != len(locations) {
		return DiscretizationResult{}, fmt.Errorf("%w: %d purposes for %d locations", ErrShapeMismatch, len(purposes), len(locations))
	}
	result := DiscretizationResult{
		Identifiers: make([]int64, len(locations)),
		Locations:   make([]r2.Point, len(locations)),
	}
	for i, p := range locations {
		c, err := s.index.Nearest(purposes[i], p)
		if err != nil {
			return DiscretizationResult{}, err
		}
		result.Identifiers[i] = c.ID
		result.Locations[i] = c.Location
	}
	return result, nil
}

func toOrb(p r2.Point) orb.Point {
	return orb.Point{p.X, p.Y}
}
