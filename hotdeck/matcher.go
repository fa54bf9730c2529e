package hotdeck

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/samber/lo"
)

// Predicate 每个字段要求的取值序号，WILDCARD表示不限制该字段
type Predicate []int

// MatcherOptions 匹配参数
type MatcherOptions struct {
	// 供体数少于该值的谓词被跳过
	MinimumSourceSamples int
	// 按来源表权重抽取供体，否则均匀抽取
	Weighted bool
}

// Matcher 热卡匹配器
//
// 搜索序列是各字段取值的笛卡尔积：必选字段只能取具体值，偏好字段额外有一个排在最后的
// WILDCARD。最后一个字段变化最快，因此序列从最具体的谓词开始逐步放宽偏好字段。
// 谓词在序列中的位置（序号）按混合进制计算，无需展开整个序列。
//
// 构建后只读，可被多个worker共享。
type Matcher struct {
	fields    []string
	mandatory int
	values    [][]string
	lookup    []map[string]int
	// 每个字段的进制与位权
	radix  []int
	weight []int
	size   int

	sourceIDs []int64
	// 谓词序号 -> 满足该谓词的来源行，只保留供体足够的谓词
	donors map[int][]int
	// 加权模式下供体的累计权重
	cumulative map[int][]float64
	options    MatcherOptions
}

func NewMatcher(source *Table, mandatory, preference []string, options MatcherOptions) (*Matcher, error) {
	fields := append(append([]string(nil), mandatory...), preference...)
	if len(fields) == 0 {
		return nil, ErrNoFields
	}
	if err := source.Validate(fields, options.Weighted); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if options.MinimumSourceSamples < 1 {
		options.MinimumSourceSamples = 1
	}
	m := &Matcher{
		fields:    fields,
		mandatory: len(mandatory),
		values:    make([][]string, len(fields)),
		lookup:    make([]map[string]int, len(fields)),
		radix:     make([]int, len(fields)),
		weight:    make([]int, len(fields)),
		sourceIDs: source.IDs,
		donors:    make(map[int][]int),
		options:   options,
	}
	for i, field := range fields {
		m.values[i] = source.Domain(field)
		m.lookup[i] = make(map[string]int, len(m.values[i]))
		for k, v := range m.values[i] {
			m.lookup[i][v] = k
		}
		m.radix[i] = len(m.values[i])
		if i >= m.mandatory {
			m.radix[i]++
		}
		log.Debugf("found categories for %s: %v", field, m.values[i])
	}
	m.size = 1
	for i := len(fields) - 1; i >= 0; i-- {
		m.weight[i] = m.size
		if m.radix[i] > 0 && m.size > math.MaxInt32/m.radix[i] {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyPredicates, math.MaxInt32)
		}
		m.size *= m.radix[i]
	}

	// 每个来源行属于其全部 2^偏好字段数 个放宽形式
	codes := make([]int, len(fields))
	for row := 0; row < source.Len(); row++ {
		for i := range fields {
			codes[i] = m.lookup[i][source.Columns[fields[i]][row]]
		}
		m.generalizations(codes, func(ordinal int) {
			m.donors[ordinal] = append(m.donors[ordinal], row)
		})
	}
	for ordinal, rows := range m.donors {
		if len(rows) < options.MinimumSourceSamples {
			delete(m.donors, ordinal)
		}
	}
	if options.Weighted {
		m.cumulative = make(map[int][]float64, len(m.donors))
		for ordinal, rows := range m.donors {
			cumulative := make([]float64, len(rows))
			total := 0.0
			for i, row := range rows {
				total += math.Max(0, source.Weights[row])
				cumulative[i] = total
			}
			m.cumulative[ordinal] = cumulative
		}
	}
	log.Infof("%d predicates, %d with at least %d donors", m.size, len(m.donors), options.MinimumSourceSamples)
	return m, nil
}

// Fields 匹配字段，必选字段在前
func (m *Matcher) Fields() []string {
	return m.fields
}

// Values 字段在来源表中的取值集合
func (m *Matcher) Values(field string) []string {
	i := lo.IndexOf(m.fields, field)
	if i < 0 {
		return nil
	}
	return m.values[i]
}

// Size 搜索序列长度
func (m *Matcher) Size() int {
	return m.size
}

// Predicate 由序号还原谓词
func (m *Matcher) Predicate(ordinal int) Predicate {
	p := make(Predicate, len(m.fields))
	for i := range m.fields {
		digit := ordinal / m.weight[i] % m.radix[i]
		if digit == len(m.values[i]) {
			digit = WILDCARD
		}
		p[i] = digit
	}
	return p
}

// Condition 谓词的可读形式：字段 -> 要求的取值，不限制的字段不出现
func (m *Matcher) Condition(p Predicate) map[string]string {
	out := make(map[string]string, len(p))
	for i, v := range p {
		if v != WILDCARD {
			out[m.fields[i]] = m.values[i][v]
		}
	}
	return out
}

// Eligible 谓词可用的供体数，被跳过的谓词为0
func (m *Matcher) Eligible(ordinal int) int {
	return len(m.donors[ordinal])
}

// 枚举codes的全部放宽形式的序号；偏好字段取值不在来源表中时只能放宽
func (m *Matcher) generalizations(codes []int, fn func(ordinal int)) {
	base := 0
	for i := 0; i < m.mandatory; i++ {
		if codes[i] < 0 {
			return
		}
		base += codes[i] * m.weight[i]
	}
	var walk func(i, ordinal int)
	walk = func(i, ordinal int) {
		if i == len(codes) {
			fn(ordinal)
			return
		}
		wildcard := len(m.values[i])
		if codes[i] >= 0 {
			walk(i+1, ordinal+codes[i]*m.weight[i])
		}
		walk(i+1, ordinal+wildcard*m.weight[i])
	}
	walk(m.mandatory, base)
}

// 序号最小（最具体）且供体足够的谓词，没有时返回-1
func (m *Matcher) first(codes []int) int {
	best := -1
	m.generalizations(codes, func(ordinal int) {
		if (best < 0 || ordinal < best) && len(m.donors[ordinal]) > 0 {
			best = ordinal
		}
	})
	return best
}

func (m *Matcher) draw(ordinal int, r float64) int {
	rows := m.donors[ordinal]
	if m.options.Weighted {
		cumulative := m.cumulative[ordinal]
		total := cumulative[len(cumulative)-1]
		if total > 0 {
			i := sort.Search(len(cumulative), func(i int) bool { return cumulative[i] > r*total })
			return rows[lo.Clamp(i, 0, len(rows)-1)]
		}
	}
	return rows[lo.Clamp(int(math.Floor(r*float64(len(rows)))), 0, len(rows)-1)]
}

// Match 为目标表每一行分配供体，每行的随机数在评估谓词之前预先抽取
func (m *Matcher) Match(ctx context.Context, target *Table, random *rand.Rand) (*Result, error) {
	if err := target.Validate(m.fields, false); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	return m.match(ctx, target, 0, target.Len(), random)
}

// 工作集按行首个可用谓词分组，再按搜索序列依次匹配并移出工作集
func (m *Matcher) match(ctx context.Context, target *Table, begin, end int, random *rand.Rand) (*Result, error) {
	n := end - begin
	draws := make([]float64, n)
	for i := range draws {
		draws[i] = random.Float64()
	}
	result := newResult(target.IDs[begin:end], len(m.fields)-m.mandatory)
	columns := lo.Map(m.fields, func(field string, _ int) []string { return target.Columns[field] })
	buckets := make(map[int][]int)
	codes := make([]int, len(m.fields))
	for i := 0; i < n; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for f := range m.fields {
			code, ok := m.lookup[f][columns[f][begin+i]]
			if !ok {
				code = -1
			}
			codes[f] = code
		}
		if ordinal := m.first(codes); ordinal >= 0 {
			buckets[ordinal] = append(buckets[ordinal], i)
		}
	}
	order := lo.Keys(buckets)
	sort.Ints(order)
	working := n
	for _, ordinal := range order {
		rows := buckets[ordinal]
		wildcards := lo.Count(m.Predicate(ordinal)[m.mandatory:], WILDCARD)
		for _, i := range rows {
			result.DonorIDs[i] = m.sourceIDs[m.draw(ordinal, draws[i])]
			result.Predicates[i] = ordinal
		}
		result.Relaxation[wildcards] += len(rows)
		working -= len(rows)
	}
	for i, ordinal := range result.Predicates {
		if ordinal < 0 {
			result.Unmatched = append(result.Unmatched, result.TargetIDs[i])
		}
	}
	log.Debugf("matched %d of %d rows with %d predicates", n-working, n, len(order))
	return result, nil
}
