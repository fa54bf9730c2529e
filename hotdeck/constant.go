package hotdeck

import (
	"errors"
	"math"
)

const (
	// 未匹配行的供体编号
	DEFAULT_ID int64 = -1
	// 谓词中表示“不关心”的取值
	WILDCARD = -1
	// 谓词可用的最少供体数
	DEFAULT_MINIMUM_SOURCE_SAMPLES = 5
)

var (
	// 年龄分级边界（右闭），配合Digitize使用
	AGE_BOUNDARIES = []float64{6, 10, 14, 18, 24, 30, 42, 54, 66, 78, math.Inf(1)}
	// 家庭收入分级边界（右闭）
	INCOME_BOUNDARIES = []float64{2000, 2900, 4150, 6580, math.Inf(1)}
)

var (
	// 错误：表中缺少匹配字段
	ErrUnknownField = errors.New("unknown matching field")
	// 错误：列长度与行数不一致
	ErrRaggedTable = errors.New("column length differs from row count")
	// 错误：加权匹配但来源表缺少权重
	ErrMissingWeights = errors.New("source weights missing")
	// 错误：未声明任何匹配字段
	ErrNoFields = errors.New("no matching fields")
	// 错误：搜索序列过长
	ErrTooManyPredicates = errors.New("too many predicates")
	// 错误：结果行数与目标表不一致
	ErrRowCountMismatch = errors.New("row count mismatch")
)
