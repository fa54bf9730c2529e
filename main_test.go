package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/synthesis/hotdeck"
	"git.fiblab.net/sim/synthesis/location"
	"git.fiblab.net/sim/synthesis/location/algo"
	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewPath(t *testing.T) {
	file := writeFile(t, "trips.csv", "person_id\n")
	p, err := NewPath(file)
	require.NoError(t, err)
	assert.True(t, p.IsFile())
	assert.Equal(t, ".csv", p.Ext())

	p, err = NewPath("synthesis.trips")
	require.NoError(t, err)
	assert.False(t, p.IsFile())
	assert.Equal(t, "synthesis", p.DB)
	assert.Equal(t, "trips", p.Coll)
	assert.Equal(t, "synthesis.trips", p.String())

	p, err = NewPath("")
	assert.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewPath("synthesis.trips.backup")
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 5, c.MinimumSourceSamples)
	assert.Equal(t, []string{"age_class", "sex", "binary_car_availability", "employment"}, c.MandatoryFields)
	assert.Equal(t, 200.0, c.Thresholds["car"])
	assert.Equal(t, -0.2, c.ResamplingFactors["walk"])
	assert.Equal(t, 0.1, c.Relaxation.Alpha)

	path := writeFile(t, "synthesis.yml", `
minimum_source_samples: 20
preference_fields: [area]
relaxation:
  eps: 5
thresholds:
  walk: 50
random_seed: 7
processes: 2
`)
	c, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 20, c.MinimumSourceSamples)
	assert.Equal(t, []string{"area"}, c.PreferenceFields)
	assert.Equal(t, 5.0, c.Relaxation.Eps)
	assert.Equal(t, 0.1, c.Relaxation.Alpha)
	assert.Equal(t, 50.0, c.Thresholds["walk"])
	assert.Equal(t, int64(7), c.RandomSeed)
	lc := c.LocationConfig()
	assert.Equal(t, 2, lc.Workers)
	assert.Equal(t, 5.0, lc.Relaxation.Eps)
	assert.Equal(t, 1000, lc.Relaxation.MaximumIterations)

	_, err = LoadConfig(writeFile(t, "bad.yml", "thresholds: [1, 2]"))
	assert.Error(t, err)
}

func TestLoadFiles(t *testing.T) {
	ctx := context.Background()
	loader := NewLoader("")
	defer loader.Close()

	source := writeFile(t, "source.csv", "person_id,weight,sex,area\n1,2.5,female,A\n2,1,male,B\n")
	table, err := loader.LoadTable(ctx, &Path{File: source}, "person_id", "weight", []string{"sex", "area"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, table.IDs)
	assert.Equal(t, []float64{2.5, 1}, table.Weights)
	assert.Equal(t, []string{"female", "male"}, table.Columns["sex"])
	_, err = loader.LoadTable(ctx, &Path{File: source}, "person_id", "", []string{"age_class"})
	assert.ErrorIs(t, err, ErrMissingColumn)

	trips := writeFile(t, "trips.csv", "person_id,trip_index,mode,preceding_purpose,following_purpose,departure_time,arrival_time\n"+
		"1,0,car,home,shop,28800,29700\n1,1,walk,shop,home,36000,36600\n")
	ts, err := loader.LoadTrips(ctx, &Path{File: trips})
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, "walk", ts[1].Mode)
	assert.Equal(t, 600.0, ts[1].TravelTime())
	assert.Equal(t, 0.0, ts[1].Distance)

	anchors := writeFile(t, "anchors.csv", "person_id,purpose,x,y\n1,home,0,0\n1,work,100,50\n")
	as, err := loader.LoadAnchors(ctx, &Path{File: anchors})
	require.NoError(t, err)
	assert.Equal(t, r2.Point{X: 100, Y: 50}, *as[1].Work)
	assert.Nil(t, as[1].Education)
	bad := writeFile(t, "anchors.csv", "person_id,purpose,x,y\n1,shop,0,0\n")
	_, err = loader.LoadAnchors(ctx, &Path{File: bad})
	assert.ErrorIs(t, err, ErrUnknownAnchor)

	candidates := writeFile(t, "candidates.csv", "id,purpose,x,y\n10,shop,0,0\n11,shop,1000,0\n11,leisure,1000,0\n")
	index, err := loader.LoadCandidates(ctx, &Path{File: candidates})
	require.NoError(t, err)
	c, err := index.Nearest("shop", r2.Point{X: 900, Y: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(11), c.ID)
	assert.Len(t, index.Candidates("leisure"), 1)

	distributions := writeFile(t, "distributions.json", `{"car": {"distributions": [{"edges": [0, 1000, 2000], "cdf": [2, 4]}]}}`)
	ds, err := loader.LoadDistributions(ctx, &Path{File: distributions})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1}, ds["car"].Distributions[0].CDF)

	// 没有mongo uri时不能读取集合
	_, err = loader.LoadTrips(ctx, &Path{DB: "synthesis", Coll: "trips"})
	assert.Error(t, err)
}

func TestTableFromDocuments(t *testing.T) {
	// 超过2^53的编号不能经过float64
	const large int64 = 1<<53 + 1
	docs := []bson.M{
		{"person_id": large, "weight": 1.5, "sex": "female"},
		{"person_id": int32(7), "weight": int32(2), "sex": "male"},
		{"person_id": 8.0, "weight": 1.0, "sex": "male"},
	}
	table, err := tableFromDocuments(docs, "person_id", "weight", []string{"sex"})
	require.NoError(t, err)
	assert.Equal(t, []int64{large, 7, 8}, table.IDs)
	assert.Equal(t, []float64{1.5, 2, 1}, table.Weights)
	assert.Equal(t, []string{"female", "male", "male"}, table.Columns["sex"])

	_, err = tableFromDocuments([]bson.M{{"person_id": 1.5, "sex": "male"}}, "person_id", "", []string{"sex"})
	assert.ErrorIs(t, err, ErrMissingColumn)
	_, err = tableFromDocuments([]bson.M{{"person_id": "1", "sex": "male"}}, "person_id", "", []string{"sex"})
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestSink(t *testing.T) {
	sink, err := OpenSink(filepath.Join(t.TempDir(), "out.db"))
	require.NoError(t, err)
	defer sink.Close()

	result := &hotdeck.Result{
		TargetIDs:  []int64{1, 2, 3},
		DonorIDs:   []int64{10, hotdeck.DEFAULT_ID, 11},
		Predicates: []int{0, -1, 4},
		Unmatched:  []int64{2},
	}
	require.NoError(t, sink.WriteMatching(result))
	// 重复写入覆盖旧结果
	require.NoError(t, sink.WriteMatching(result))
	var n int
	require.NoError(t, sink.DB().QueryRow("SELECT COUNT(*) FROM matching").Scan(&n))
	assert.Equal(t, 2, n)
	var source int64
	require.NoError(t, sink.DB().QueryRow("SELECT source_id FROM matching WHERE person_id = 3").Scan(&source))
	assert.Equal(t, int64(11), source)
	require.NoError(t, sink.DB().QueryRow("SELECT COUNT(*) FROM unmatched").Scan(&n))
	assert.Equal(t, 1, n)

	out := &location.Output{
		Locations: []location.LocationResult{
			{PersonID: 1, TripIndex: 0, DestinationID: 7, Location: r2.Point{X: 1, Y: 2}},
			{PersonID: 1, TripIndex: 1, DestinationID: 8, Location: r2.Point{X: 3, Y: 4}},
		},
		Convergence: []location.ConvergenceRecord{{PersonID: 1, Valid: true, Size: 2, Iterations: 3}},
	}
	require.NoError(t, sink.WriteLocations(out))
	var x, y float64
	require.NoError(t, sink.DB().QueryRow("SELECT x, y FROM locations WHERE person_id = 1 AND trip_index = 1").Scan(&x, &y))
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 4.0, y)
	var valid bool
	require.NoError(t, sink.DB().QueryRow("SELECT valid FROM convergence").Scan(&valid))
	assert.True(t, valid)
}

func newTestServer(t *testing.T) *SynthesisServer {
	t.Helper()
	config := DefaultConfig()
	config.MandatoryFields = []string{"sex"}
	config.PreferenceFields = []string{"area"}
	config.MinimumSourceSamples = 2
	config.Processes = 2

	source := hotdeck.NewTable([]int64{100, 101, 102, 103})
	source.Columns["sex"] = []string{"female", "female", "male", "male"}
	source.Columns["area"] = []string{"A", "A", "A", "B"}
	matcher, err := hotdeck.NewMatcher(source, config.MandatoryFields, config.PreferenceFields, config.MatcherOptions())
	require.NoError(t, err)

	car, err := algo.NewDistribution([]float64{4900, 5100}, []float64{1})
	require.NoError(t, err)
	distributions := algo.Distributions{"car": {Distributions: []*algo.Distribution{car}}}
	candidates := make([]algo.Candidate, 0)
	for x := -6000.0; x <= 6000; x += 100 {
		for y := -6000.0; y <= 6000; y += 100 {
			candidates = append(candidates, algo.Candidate{ID: int64(len(candidates)), Location: r2.Point{X: x, Y: y}})
		}
	}
	index, err := algo.NewCandidateIndex(map[string][]algo.Candidate{"shop": candidates})
	require.NoError(t, err)

	server, err := NewSynthesisServer(config, matcher, distributions, index)
	require.NoError(t, err)
	return server
}

func TestServerMatch(t *testing.T) {
	server := newTestServer(t)
	res, err := server.Match(context.Background(), connect.NewRequest(&MatchRequest{
		IDs: []int64{1, 2, 3},
		Columns: map[string][]string{
			"sex":  {"female", "male", "unknown"},
			"area": {"A", "B", "A"},
		},
	}))
	require.NoError(t, err)
	require.Len(t, res.Msg.Matches, 2)
	assert.Contains(t, []int64{100, 101}, res.Msg.Matches[0].SourceID)
	// male+B只有1个供体，放宽区域
	assert.Contains(t, []int64{102, 103}, res.Msg.Matches[1].SourceID)
	assert.Equal(t, []int64{3}, res.Msg.Unmatched)
	assert.Equal(t, []int{1, 1}, res.Msg.Relaxation)

	_, err = server.Match(context.Background(), connect.NewRequest(&MatchRequest{
		IDs:     []int64{1},
		Columns: map[string][]string{"sex": {"female"}},
	}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func chain(person int64) []location.Trip {
	return []location.Trip{
		{PersonID: person, TripIndex: 0, Mode: "car", PrecedingPurpose: "home", FollowingPurpose: "shop", DepartureTime: 28800, ArrivalTime: 29700},
		{PersonID: person, TripIndex: 1, Mode: "car", PrecedingPurpose: "shop", FollowingPurpose: "home", DepartureTime: 36000, ArrivalTime: 36900},
	}
}

func TestServerAssignLocations(t *testing.T) {
	server := newTestServer(t)
	home := r2.Point{X: 0, Y: 0}
	req := &AssignLocationsRequest{
		Trips:   append(chain(1), chain(2)...),
		Anchors: []location.Anchors{{PersonID: 1, Home: &home}, {PersonID: 2, Home: &home}},
	}
	res, err := server.AssignLocations(context.Background(), connect.NewRequest(req))
	require.NoError(t, err)
	require.Len(t, res.Msg.Locations, 2)
	assert.Equal(t, 1.0, res.Msg.SuccessRate)
	for _, l := range res.Msg.Locations {
		assert.InDelta(t, 5000, l.Location.Norm(), 200)
	}

	// 缺少锚点
	req.Anchors = req.Anchors[:1]
	_, err = server.AssignLocations(context.Background(), connect.NewRequest(req))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	// 没有leisure候选地点
	req.Anchors = []location.Anchors{{PersonID: 1, Home: &home}}
	req.Trips = chain(1)
	req.Trips[0].FollowingPurpose, req.Trips[1].PrecedingPurpose = "leisure", "leisure"
	_, err = server.AssignLocations(context.Background(), connect.NewRequest(req))
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func TestServerSetResamplingFactors(t *testing.T) {
	server := newTestServer(t)
	_, err := server.SetResamplingFactors(context.Background(), connect.NewRequest(&SetResamplingFactorsRequest{
		Factors: map[string]float64{"bike": 0.5},
	}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	res, err := server.SetResamplingFactors(context.Background(), connect.NewRequest(&SetResamplingFactorsRequest{
		Factors: map[string]float64{"car": 0.5},
	}))
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Msg.Factors["car"])

	server, err = NewSynthesisServer(DefaultConfig(), nil, nil, nil)
	require.NoError(t, err)
	_, err = server.SetResamplingFactors(context.Background(), connect.NewRequest(&SetResamplingFactorsRequest{}))
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func TestServerSuspend(t *testing.T) {
	server := newTestServer(t)
	server.Suspend()
	done := make(chan error, 1)
	go func() {
		_, err := server.SetResamplingFactors(context.Background(), connect.NewRequest(&SetResamplingFactorsRequest{
			Factors: map[string]float64{"car": 0.5},
		}))
		done <- err
	}()
	// 暂停期间请求阻塞
	select {
	case <-done:
		t.Fatal("request finished while the server was suspended")
	case <-time.After(100 * time.Millisecond):
	}
	server.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("request still blocked after resume")
	}
	assert.Equal(t, 0.5, server.engine.Config().ResamplingFactors["car"])
}

func TestServerOverHTTP(t *testing.T) {
	server := newTestServer(t)
	mux := http.NewServeMux()
	mux.Handle(server.Handler())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := connect.NewClient[MatchRequest, MatchResponse](
		ts.Client(), ts.URL+MATCH_PROCEDURE, connect.WithCodec(jsonCodec{}),
	)
	res, err := client.CallUnary(context.Background(), connect.NewRequest(&MatchRequest{
		IDs:     []int64{1},
		Columns: map[string][]string{"sex": {"male"}, "area": {"A"}},
	}))
	require.NoError(t, err)
	require.Len(t, res.Msg.Matches, 1)
	assert.Contains(t, []int64{102, 103}, res.Msg.Matches[0].SourceID)
}
