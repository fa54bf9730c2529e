package location

import "errors"

const (
	// 锚点活动（主要活动），其坐标由上游阶段确定
	HOME      = "home"
	WORK      = "work"
	EDUCATION = "education"
)

var (
	// 错误：人员缺少所需锚点的坐标
	ErrMissingAnchor = errors.New("missing anchor location")
	// 错误：输出行数与问题规模不一致
	ErrRowCountMismatch = errors.New("row count mismatch")
	// 错误：出行记录未按人员和序号排序
	ErrUnsortedTrips = errors.New("trips are not sorted by person and trip index")
)

// IsAnchor 判断出行目的是否为锚点活动
func IsAnchor(purpose string) bool {
	return purpose == HOME || purpose == WORK || purpose == EDUCATION
}
