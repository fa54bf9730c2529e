package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"git.fiblab.net/sim/synthesis/hotdeck"
	"git.fiblab.net/sim/synthesis/location"
	"git.fiblab.net/sim/synthesis/location/algo"
	"github.com/golang/geo/r2"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// 错误：输入缺少必要的列
	ErrMissingColumn = errors.New("missing column")
	// 错误：锚点目的不是home/work/education
	ErrUnknownAnchor = errors.New("unknown anchor purpose")
)

// Loader 从CSV/JSON文件或MongoDB集合读取输入表，MongoDB连接在首次使用时建立
type Loader struct {
	mongoURI string
	client   *mongo.Client
}

func NewLoader(mongoURI string) *Loader {
	return &Loader{mongoURI: mongoURI}
}

func (l *Loader) coll(ctx context.Context, path *Path) (*mongo.Collection, error) {
	if l.client == nil {
		if l.mongoURI == "" {
			return nil, fmt.Errorf("no mongo uri for %s", path)
		}
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(l.mongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		l.client = client
	}
	return l.client.Database(path.DB).Collection(path.Coll), nil
}

func (l *Loader) Close() {
	if l.client != nil {
		if err := l.client.Disconnect(context.Background()); err != nil {
			log.Warnf("disconnect mongo: %v", err)
		}
		l.client = nil
	}
}

// 读取整个集合，每个文档解码为T
func download[T any](ctx context.Context, l *Loader, path *Path) ([]T, error) {
	coll, err := l.coll(ctx, path)
	if err != nil {
		return nil, err
	}
	cursor, err := coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", path, err)
	}
	out := make([]T, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	log.Debugf("downloaded %d documents from %s", len(out), path)
	return out, nil
}

// csvTable CSV文件按列名访问
type csvTable struct {
	path    string
	header  map[string]int
	records [][]string
}

func readCSV(path string) (*csvTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty file", path)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t := &csvTable{path: path, header: make(map[string]int, len(header)), records: records}
	for i, name := range header {
		t.header[name] = i
	}
	return t, nil
}

func (t *csvTable) has(column string) bool {
	_, ok := t.header[column]
	return ok
}

func (t *csvTable) column(column string) ([]string, error) {
	i, ok := t.header[column]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrMissingColumn, column, t.path)
	}
	return lo.Map(t.records, func(record []string, _ int) string { return record[i] }), nil
}

func (t *csvTable) floats(column string) ([]float64, error) {
	values, err := t.column(column)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if v == "" {
			continue
		}
		if out[i], err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("%s row %d column %s: %w", t.path, i+2, column, err)
		}
	}
	return out, nil
}

func (t *csvTable) ints(column string) ([]int64, error) {
	values, err := t.column(column)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(values))
	for i, v := range values {
		if out[i], err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("%s row %d column %s: %w", t.path, i+2, column, err)
		}
	}
	return out, nil
}

// LoadTable 读取热卡匹配的来源表或目标表；weightColumn为空时不读取权重
func (l *Loader) LoadTable(ctx context.Context, path *Path, idColumn, weightColumn string, fields []string) (*hotdeck.Table, error) {
	if !path.IsFile() {
		docs, err := download[bson.M](ctx, l, path)
		if err != nil {
			return nil, err
		}
		return tableFromDocuments(docs, idColumn, weightColumn, fields)
	}
	t, err := readCSV(path.File)
	if err != nil {
		return nil, err
	}
	ids, err := t.ints(idColumn)
	if err != nil {
		return nil, err
	}
	table := hotdeck.NewTable(ids)
	if weightColumn != "" && t.has(weightColumn) {
		if table.Weights, err = t.floats(weightColumn); err != nil {
			return nil, err
		}
	}
	for _, field := range fields {
		if table.Columns[field], err = t.column(field); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func tableFromDocuments(docs []bson.M, idColumn, weightColumn string, fields []string) (*hotdeck.Table, error) {
	table := hotdeck.NewTable(make([]int64, len(docs)))
	for _, field := range fields {
		table.Columns[field] = make([]string, len(docs))
	}
	weighted := weightColumn != "" && len(docs) > 0 && docs[0][weightColumn] != nil
	if weighted {
		table.Weights = make([]float64, len(docs))
	}
	for i, doc := range docs {
		id, ok := asInt64(doc[idColumn])
		if !ok {
			return nil, fmt.Errorf("%w: document %d has no integer %s", ErrMissingColumn, i, idColumn)
		}
		table.IDs[i] = id
		if weighted {
			if table.Weights[i], ok = asFloat(doc[weightColumn]); !ok {
				return nil, fmt.Errorf("%w: document %d has no numeric %s", ErrMissingColumn, i, weightColumn)
			}
		}
		for _, field := range fields {
			v, ok := doc[field]
			if !ok {
				return nil, fmt.Errorf("%w: document %d has no %s", ErrMissingColumn, i, field)
			}
			table.Columns[field][i] = fmt.Sprint(v)
		}
	}
	return table, nil
}

// 整数类型原样返回，浮点数只接受整数值
func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		if x != math.Trunc(x) || x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// LoadTrips 读取出行链，distance列可缺省
func (l *Loader) LoadTrips(ctx context.Context, path *Path) ([]location.Trip, error) {
	if !path.IsFile() {
		return download[location.Trip](ctx, l, path)
	}
	t, err := readCSV(path.File)
	if err != nil {
		return nil, err
	}
	persons, err := t.ints("person_id")
	if err != nil {
		return nil, err
	}
	indices, err := t.ints("trip_index")
	if err != nil {
		return nil, err
	}
	modes, err := t.column("mode")
	if err != nil {
		return nil, err
	}
	preceding, err := t.column("preceding_purpose")
	if err != nil {
		return nil, err
	}
	following, err := t.column("following_purpose")
	if err != nil {
		return nil, err
	}
	departures, err := t.floats("departure_time")
	if err != nil {
		return nil, err
	}
	arrivals, err := t.floats("arrival_time")
	if err != nil {
		return nil, err
	}
	distances := make([]float64, len(persons))
	if t.has("distance") {
		if distances, err = t.floats("distance"); err != nil {
			return nil, err
		}
	}
	trips := make([]location.Trip, len(persons))
	for i := range trips {
		trips[i] = location.Trip{
			PersonID:         persons[i],
			TripIndex:        int(indices[i]),
			Mode:             modes[i],
			PrecedingPurpose: preceding[i],
			FollowingPurpose: following[i],
			DepartureTime:    departures[i],
			ArrivalTime:      arrivals[i],
			Distance:         distances[i],
		}
	}
	return trips, nil
}

// 锚点与候选地点的行格式
type pointRecord struct {
	ID       int64   `bson:"id"`
	PersonID int64   `bson:"person_id"`
	Purpose  string  `bson:"purpose"`
	X        float64 `bson:"x"`
	Y        float64 `bson:"y"`
}

func (l *Loader) loadPoints(ctx context.Context, path *Path, idColumn string) ([]pointRecord, error) {
	if !path.IsFile() {
		return download[pointRecord](ctx, l, path)
	}
	t, err := readCSV(path.File)
	if err != nil {
		return nil, err
	}
	ids, err := t.ints(idColumn)
	if err != nil {
		return nil, err
	}
	purposes, err := t.column("purpose")
	if err != nil {
		return nil, err
	}
	xs, err := t.floats("x")
	if err != nil {
		return nil, err
	}
	ys, err := t.floats("y")
	if err != nil {
		return nil, err
	}
	records := make([]pointRecord, len(ids))
	for i := range records {
		records[i] = pointRecord{ID: ids[i], PersonID: ids[i], Purpose: purposes[i], X: xs[i], Y: ys[i]}
	}
	return records, nil
}

// LoadAnchors 读取锚点坐标，每行为 (person_id, purpose, x, y)
func (l *Loader) LoadAnchors(ctx context.Context, path *Path) (map[int64]*location.Anchors, error) {
	records, err := l.loadPoints(ctx, path, "person_id")
	if err != nil {
		return nil, err
	}
	anchors := make(map[int64]*location.Anchors)
	for _, r := range records {
		a, ok := anchors[r.PersonID]
		if !ok {
			a = &location.Anchors{PersonID: r.PersonID}
			anchors[r.PersonID] = a
		}
		p := &r2.Point{X: r.X, Y: r.Y}
		switch r.Purpose {
		case location.HOME:
			a.Home = p
		case location.WORK:
			a.Work = p
		case location.EDUCATION:
			a.Education = p
		default:
			return nil, fmt.Errorf("%w: person %d %q", ErrUnknownAnchor, r.PersonID, r.Purpose)
		}
	}
	return anchors, nil
}

// LoadCandidates 读取候选设施，每行为 (id, purpose, x, y)，同一设施可出现在多个目的下
func (l *Loader) LoadCandidates(ctx context.Context, path *Path) (*algo.CandidateIndex, error) {
	records, err := l.loadPoints(ctx, path, "id")
	if err != nil {
		return nil, err
	}
	candidates := make(map[string][]algo.Candidate)
	for _, r := range records {
		candidates[r.Purpose] = append(candidates[r.Purpose], algo.Candidate{ID: r.ID, Location: r2.Point{X: r.X, Y: r.Y}})
	}
	for purpose, cs := range candidates {
		log.Infof("loaded %d %s candidates", len(cs), purpose)
	}
	return algo.NewCandidateIndex(candidates)
}

// 集合中每个文档为一种出行方式的距离分布
type distributionDocument struct {
	Mode                  string `bson:"mode"`
	algo.ModeDistribution `bson:",inline"`
}

// LoadDistributions 读取JSON文件（出行方式 -> 分布）或MongoDB集合
func (l *Loader) LoadDistributions(ctx context.Context, path *Path) (algo.Distributions, error) {
	distributions := make(algo.Distributions)
	if path.IsFile() {
		data, err := os.ReadFile(path.File)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &distributions); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		docs, err := download[distributionDocument](ctx, l, path)
		if err != nil {
			return nil, err
		}
		for i := range docs {
			distributions[docs[i].Mode] = &docs[i].ModeDistribution
		}
	}
	if err := distributions.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return distributions, nil
}
