package location

import (
	"fmt"
	"sort"

	"git.fiblab.net/sim/synthesis/location/algo"
	"github.com/golang/geo/r2"
)

// CollapsePrimaryActivities 合并连续重复的锚点活动：若某次出行的到达目的为锚点，
// 且与该人上一次保留出行的到达目的相同，则删除该出行。返回排序后的新切片，出行序号重新编号
func CollapsePrimaryActivities(trips []Trip) []Trip {
	sorted := append([]Trip(nil), trips...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PersonID != sorted[j].PersonID {
			return sorted[i].PersonID < sorted[j].PersonID
		}
		return sorted[i].TripIndex < sorted[j].TripIndex
	})
	out := make([]Trip, 0, len(sorted))
	dropped := 0
	index := 0
	for i, t := range sorted {
		if i == 0 || sorted[i-1].PersonID != t.PersonID {
			index = 0
		}
		if n := len(out); n > 0 && out[n-1].PersonID == t.PersonID &&
			IsAnchor(t.FollowingPurpose) && out[n-1].FollowingPurpose == t.FollowingPurpose {
			dropped++
			continue
		}
		t.TripIndex = index
		index++
		out = append(out, t)
	}
	if dropped > 0 {
		log.Debugf("collapsed %d repeated primary activities", dropped)
	}
	return out
}

// 检查出行按 (PersonID, TripIndex) 严格升序
func checkSorted(trips []Trip) error {
	for i := 1; i < len(trips); i++ {
		prev, cur := &trips[i-1], &trips[i]
		if cur.PersonID < prev.PersonID || (cur.PersonID == prev.PersonID && cur.TripIndex <= prev.TripIndex) {
			return fmt.Errorf("%w: person %d trip %d after person %d trip %d",
				ErrUnsortedTrips, cur.PersonID, cur.TripIndex, prev.PersonID, prev.TripIndex)
		}
	}
	return nil
}

// FindAssignmentProblems 在锚点活动处切分每个人的出行链
// 两个锚点之间的次要活动构成一个问题，首个锚点之前或最后一个锚点之后的构成单锚点的链首/链尾问题
func FindAssignmentProblems(trips []Trip, anchors map[int64]*Anchors) ([]*Problem, error) {
	if err := checkSorted(trips); err != nil {
		return nil, err
	}
	problems := make([]*Problem, 0)
	for begin := 0; begin < len(trips); {
		end := begin + 1
		for end < len(trips) && trips[end].PersonID == trips[begin].PersonID {
			end++
		}
		ps, err := findPersonProblems(trips[begin:end], anchors[trips[begin].PersonID])
		if err != nil {
			return nil, err
		}
		problems = append(problems, ps...)
		begin = end
	}
	return problems, nil
}

// 单人的出行链：活动 i 与活动 i+1 之间是第 i 次出行
func findPersonProblems(trips []Trip, anchors *Anchors) ([]*Problem, error) {
	personID := trips[0].PersonID
	activities := make([]string, len(trips)+1)
	activities[0] = trips[0].PrecedingPurpose
	for i, t := range trips {
		activities[i+1] = t.FollowingPurpose
	}
	problems := make([]*Problem, 0)
	last := -1
	var lastLocation *r2.Point
	for a, purpose := range activities {
		if !IsAnchor(purpose) {
			continue
		}
		location := anchors.Location(purpose)
		if location == nil {
			return nil, fmt.Errorf("%w: person %d has no %s location", ErrMissingAnchor, personID, purpose)
		}
		// 两个相邻锚点之间没有次要活动
		if a-last > 1 {
			problems = append(problems, newProblem(personID, trips, activities, last, a, lastLocation, location))
		}
		last, lastLocation = a, location
	}
	if last < 0 {
		return nil, fmt.Errorf("%w: person %d has no anchor activity", ErrMissingAnchor, personID)
	}
	if last < len(activities)-1 {
		problems = append(problems, newProblem(personID, trips, activities, last, len(activities), lastLocation, nil))
	}
	return problems, nil
}

// 活动 (from, to) 之间的次要活动组成的问题；from<0 表示链首，to==len(activities) 表示链尾
func newProblem(personID int64, trips []Trip, activities []string, from, to int, origin, destination *r2.Point) *Problem {
	first := from + 1
	// 出行段：起点已知时从第from次出行开始，否则从第0次出行开始
	legBegin, legEnd := from, to
	if from < 0 {
		legBegin = 0
	}
	if to >= len(activities) {
		legEnd = len(trips)
	}
	legs := trips[legBegin:legEnd]
	p := &Problem{
		AssignmentProblem: algo.AssignmentProblem{
			Origin:      origin,
			Destination: destination,
			Modes:       make([]string, len(legs)),
			TravelTimes: make([]float64, len(legs)),
			Distances:   make([]float64, len(legs)),
			Purposes:    append([]string(nil), activities[first:to]...),
		},
		PersonID: personID,
	}
	for i := range legs {
		p.Modes[i] = legs[i].Mode
		p.TravelTimes[i] = legs[i].TravelTime()
		p.Distances[i] = legs[i].Distance
	}
	if from < 0 {
		// 链首活动之前没有出行
		p.TripIndex = trips[0].TripIndex - 1
	} else {
		p.TripIndex = trips[from].TripIndex
	}
	return p
}
