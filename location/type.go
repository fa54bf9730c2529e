package location

import (
	"git.fiblab.net/sim/synthesis/location/algo"
	"github.com/golang/geo/r2"
)

// Trip 出行链中的一段出行，按 (PersonID, TripIndex) 排序
type Trip struct {
	PersonID         int64   `json:"person_id" bson:"person_id"`
	TripIndex        int     `json:"trip_index" bson:"trip_index"`
	Mode             string  `json:"mode" bson:"mode"`
	PrecedingPurpose string  `json:"preceding_purpose" bson:"preceding_purpose"`
	FollowingPurpose string  `json:"following_purpose" bson:"following_purpose"`
	DepartureTime    float64 `json:"departure_time" bson:"departure_time"` // s
	ArrivalTime      float64 `json:"arrival_time" bson:"arrival_time"`     // s
	// 已知出行距离/m，0表示未知，需要采样
	Distance float64 `json:"distance,omitempty" bson:"distance,omitempty"`
}

// TravelTime 出行时间/s，跨越午夜时加一天
func (t *Trip) TravelTime() float64 {
	arrival := t.ArrivalTime
	if arrival < t.DepartureTime {
		arrival += 24 * 3600
	}
	return arrival - t.DepartureTime
}

// Anchors 人员的锚点坐标，由主要地点阶段给出
type Anchors struct {
	PersonID  int64     `json:"person_id" bson:"person_id"`
	Home      *r2.Point `json:"home" bson:"home"`
	Work      *r2.Point `json:"work,omitempty" bson:"work,omitempty"`
	Education *r2.Point `json:"education,omitempty" bson:"education,omitempty"`
}

// Location 锚点活动的坐标，非锚点或缺失时返回nil
func (a *Anchors) Location(purpose string) *r2.Point {
	if a == nil {
		return nil
	}
	switch purpose {
	case HOME:
		return a.Home
	case WORK:
		return a.Work
	case EDUCATION:
		return a.Education
	default:
		return nil
	}
}

// Problem 一个人的一段待求解链
type Problem struct {
	algo.AssignmentProblem
	PersonID int64
	// 到达第一个次要活动的出行序号；链首活动（当天第一个活动）为 -1
	TripIndex int
}

// LocationResult 一个次要活动的地点
type LocationResult struct {
	PersonID      int64    `json:"person_id" bson:"person_id"`
	TripIndex     int      `json:"trip_index" bson:"trip_index"`
	DestinationID int64    `json:"destination_id" bson:"destination_id"`
	Location      r2.Point `json:"location" bson:"location"`
}

// ConvergenceRecord 一个问题的求解诊断信息
type ConvergenceRecord struct {
	PersonID   int64 `json:"person_id" bson:"person_id"`
	Valid      bool  `json:"valid" bson:"valid"`
	Size       int   `json:"size" bson:"size"`
	Iterations int   `json:"iterations" bson:"iterations"`
}
