package algo

import "errors"

const (
	// 距离采样的默认最大重试次数
	DEFAULT_SAMPLER_ITERATIONS = 1000
	// 重力链求解器默认参数（单位：米）
	DEFAULT_ALPHA             = 0.1
	DEFAULT_EPS               = 10.0
	DEFAULT_LATERAL_DEVIATION = 10.0
	DEFAULT_RELAX_ITERATIONS  = 1000
	// 分配求解器默认最大迭代次数
	DEFAULT_ASSIGNMENT_ITERATIONS = 20

	// 判定两点重合的距离阈值/m
	COINCIDENT_DISTANCE = 1e-6
)

var (
	// 错误：没有该出行方式的距离分布或阈值
	ErrUnknownMode = errors.New("unknown transport mode")
	// 错误：距离采样超过最大重试次数
	ErrSamplingExhausted = errors.New("distance sampling exhausted maximum iterations")
	// 错误：分布格式不合法
	ErrInvalidDistribution = errors.New("invalid distance distribution")
	// 错误：链的两端都没有锚点
	ErrNoAnchor = errors.New("chain has neither origin nor destination")
	// 错误：出行目的没有候选地点
	ErrNoCandidates = errors.New("no candidate destinations for purpose")
	// 错误：输入长度不一致
	ErrShapeMismatch = errors.New("mismatched input lengths")
)
