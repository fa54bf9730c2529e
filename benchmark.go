package main

import (
	"context"
	"flag"
	"math/rand"
	"runtime"
	"time"

	"git.fiblab.net/sim/synthesis/location"
	"git.fiblab.net/sim/synthesis/location/algo"
	"github.com/golang/geo/r2"
	"github.com/sirupsen/logrus"
)

var (
	benchmarkCount      = flag.Int("benchmark.count", 10000, "the random person count for benchmark")
	benchmarkCandidates = flag.Int("benchmark.candidates", 20000, "the random candidate count per purpose for benchmark")
	benchmarkExtent     = flag.Float64("benchmark.extent", 20000, "the half width (m) of the benchmark area")
	benchmarkSeed       = flag.Int64("benchmark.seed", 0, "the seed for benchmark")
	benchmarkCPU        = flag.Int("benchmark.cpu", 1, "the cpu count for benchmark")
)

// 随机生成人员出行链与候选地点，测试次要活动地点分配的吞吐
func runBenchmark(config *Config) {
	log.Logger.SetLevel(logrus.WarnLevel)
	// 设置随机种子
	e := rand.New(rand.NewSource(*benchmarkSeed))
	point := func() r2.Point {
		return r2.Point{
			X: (2*e.Float64() - 1) * *benchmarkExtent,
			Y: (2*e.Float64() - 1) * *benchmarkExtent,
		}
	}
	purposes := []string{"shop", "leisure", "other"}
	candidates := make(map[string][]algo.Candidate, len(purposes))
	id := int64(0)
	for _, purpose := range purposes {
		for i := 0; i < *benchmarkCandidates; i++ {
			candidates[purpose] = append(candidates[purpose], algo.Candidate{ID: id, Location: point()})
			id++
		}
	}
	index, err := algo.NewCandidateIndex(candidates)
	if err != nil {
		log.Fatalf("benchmark failed, err: %v", err)
	}
	car, _ := algo.NewDistribution([]float64{0, 2000, 5000, 10000, 20000}, []float64{0.2, 0.5, 0.8, 1})
	walk, _ := algo.NewDistribution([]float64{0, 250, 500, 1000, 2000}, []float64{0.3, 0.6, 0.9, 1})
	distributions := algo.Distributions{
		"car":  {Distributions: []*algo.Distribution{car}},
		"walk": {Distributions: []*algo.Distribution{walk}},
	}

	// 每人 home -> 1~3个次要活动 -> home，方式随机
	trips := make([]location.Trip, 0)
	anchors := make(map[int64]*location.Anchors, *benchmarkCount)
	for p := 0; p < *benchmarkCount; p++ {
		personID := int64(p)
		home := point()
		anchors[personID] = &location.Anchors{PersonID: personID, Home: &home}
		secondary := 1 + e.Intn(3)
		previous := location.HOME
		for i := 0; i <= secondary; i++ {
			next := location.HOME
			if i < secondary {
				next = purposes[e.Intn(len(purposes))]
			}
			mode := "car"
			if e.Intn(3) == 0 {
				mode = "walk"
			}
			departure := float64(7*3600 + i*3600)
			trips = append(trips, location.Trip{
				PersonID:         personID,
				TripIndex:        i,
				Mode:             mode,
				PrecedingPurpose: previous,
				FollowingPurpose: next,
				DepartureTime:    departure,
				ArrivalTime:      departure + 1200,
			})
			previous = next
		}
	}

	// 设置cpu数量
	runtime.GOMAXPROCS(*benchmarkCPU)
	lc := config.LocationConfig()
	lc.Workers = *benchmarkCPU
	lc.Seed = *benchmarkSeed
	engine, err := location.NewEngine(lc, distributions, index)
	if err != nil {
		log.Fatalf("benchmark failed, err: %v", err)
	}
	// 开始benchmark
	start := time.Now()
	output, err := engine.Run(context.Background(), trips, anchors)
	if err != nil {
		log.Fatalf("benchmark failed, err: %v", err)
	}
	timeCost := time.Since(start) * time.Duration(*benchmarkCPU)
	log.Error(
		"benchmark finished", "\n",
		"persons:", *benchmarkCount, "\n",
		"problems:", len(output.Convergence), "\n",
		"time:", timeCost, "\n",
		"avg:", timeCost/time.Duration(max(1, len(output.Convergence))), "\n",
		"success:", output.SuccessRate(), "\n",
	)
}
