package hotdeck

import (
	"fmt"
	"sort"
	"strconv"
)

// Table 列式存储的记录表，分类字段统一以字符串比较
type Table struct {
	IDs []int64
	// 行权重，仅来源表需要
	Weights []float64
	Columns map[string][]string
}

func NewTable(ids []int64) *Table {
	return &Table{IDs: ids, Columns: make(map[string][]string)}
}

func (t *Table) Len() int {
	return len(t.IDs)
}

// Validate 检查各字段列存在且行数一致，weighted时还需要权重列
func (t *Table) Validate(fields []string, weighted bool) error {
	n := t.Len()
	for _, field := range fields {
		column, ok := t.Columns[field]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		if len(column) != n {
			return fmt.Errorf("%w: %s has %d values for %d rows", ErrRaggedTable, field, len(column), n)
		}
	}
	if t.Weights != nil && len(t.Weights) != n {
		return fmt.Errorf("%w: %d weights for %d rows", ErrRaggedTable, len(t.Weights), n)
	}
	if weighted && t.Weights == nil {
		return ErrMissingWeights
	}
	return nil
}

// Select 按行号取子表，返回拷贝
func (t *Table) Select(rows []int) *Table {
	out := &Table{
		IDs:     make([]int64, len(rows)),
		Columns: make(map[string][]string, len(t.Columns)),
	}
	for i, row := range rows {
		out.IDs[i] = t.IDs[row]
	}
	if t.Weights != nil {
		out.Weights = make([]float64, len(rows))
		for i, row := range rows {
			out.Weights[i] = t.Weights[row]
		}
	}
	for field, column := range t.Columns {
		values := make([]string, len(rows))
		for i, row := range rows {
			values[i] = column[row]
		}
		out.Columns[field] = values
	}
	return out
}

// Domain 字段的取值集合（升序去重）
func (t *Table) Domain(field string) []string {
	seen := make(map[string]struct{})
	for _, v := range t.Columns[field] {
		seen[v] = struct{}{}
	}
	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}

// Digitize 返回满足 boundaries[i-1] < x <= boundaries[i] 的i，boundaries须升序
// 超过最后一个边界时返回len(boundaries)
func Digitize(x float64, boundaries []float64) int {
	return sort.SearchFloat64s(boundaries, x)
}

// DigitizeColumn 将数值列分级为类别列
func DigitizeColumn(values []float64, boundaries []float64) []string {
	out := make([]string, len(values))
	for i, x := range values {
		out[i] = strconv.Itoa(Digitize(x, boundaries))
	}
	return out
}
