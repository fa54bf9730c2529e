package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/synthesis/hotdeck"
	"git.fiblab.net/sim/synthesis/location"
	"git.fiblab.net/sim/synthesis/location/algo"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
)

const (
	SERVICE_NAME                = "synthesis.v1.SynthesisService"
	MATCH_PROCEDURE             = "/" + SERVICE_NAME + "/Match"
	ASSIGN_LOCATIONS_PROCEDURE  = "/" + SERVICE_NAME + "/AssignLocations"
	SET_RESAMPLING_FACTORS_PROC = "/" + SERVICE_NAME + "/SetResamplingFactors"
)

type MatchRequest struct {
	IDs     []int64             `json:"ids"`
	Columns map[string][]string `json:"columns"`
	// 为空时使用配置中的随机种子
	Seed *int64 `json:"seed,omitempty"`
}

type Match struct {
	PersonID int64 `json:"person_id"`
	SourceID int64 `json:"source_id"`
}

type MatchResponse struct {
	Matches    []Match `json:"matches"`
	Unmatched  []int64 `json:"unmatched"`
	Relaxation []int   `json:"relaxation"`
}

type AssignLocationsRequest struct {
	Trips   []location.Trip    `json:"trips"`
	Anchors []location.Anchors `json:"anchors"`
	Seed    *int64             `json:"seed,omitempty"`
}

type AssignLocationsResponse struct {
	Locations   []location.LocationResult    `json:"locations"`
	Convergence []location.ConvergenceRecord `json:"convergence"`
	SuccessRate float64                      `json:"success_rate"`
}

type SetResamplingFactorsRequest struct {
	Factors map[string]float64 `json:"factors"`
}

type SetResamplingFactorsResponse struct {
	Factors map[string]float64 `json:"factors"`
}

// SynthesisServer 对外提供热卡匹配与次要活动地点分配
type SynthesisServer struct {
	config *Config

	// 参考数据，重加权时整体替换
	mu            *xsync.RBMutex
	matcher       *hotdeck.Matcher
	distributions algo.Distributions
	candidates    *algo.CandidateIndex
	engine        *location.Engine

	// 接口开启true或关闭false
	ok bool
	// 条件变量
	cond *sync.Cond
}

// NewSynthesisServer matcher或distributions/candidates可为空，对应接口返回FailedPrecondition
func NewSynthesisServer(
	config *Config,
	matcher *hotdeck.Matcher,
	distributions algo.Distributions,
	candidates *algo.CandidateIndex,
) (*SynthesisServer, error) {
	s := &SynthesisServer{
		config:        config,
		mu:            xsync.NewRBMutex(),
		matcher:       matcher,
		distributions: distributions,
		candidates:    candidates,
		ok:            true,
		cond:          sync.NewCond(&sync.Mutex{}),
	}
	if distributions != nil && candidates != nil {
		engine, err := location.NewEngine(config.LocationConfig(), distributions, candidates)
		if err != nil {
			return nil, err
		}
		s.engine = engine
	}
	return s, nil
}

// Handler 返回服务路径前缀与处理器
func (s *SynthesisServer) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	mux := http.NewServeMux()
	mux.Handle(MATCH_PROCEDURE, connect.NewUnaryHandler(MATCH_PROCEDURE, s.Match, opts...))
	mux.Handle(ASSIGN_LOCATIONS_PROCEDURE, connect.NewUnaryHandler(ASSIGN_LOCATIONS_PROCEDURE, s.AssignLocations, opts...))
	mux.Handle(SET_RESAMPLING_FACTORS_PROC, connect.NewUnaryHandler(SET_RESAMPLING_FACTORS_PROC, s.SetResamplingFactors, opts...))
	return "/" + SERVICE_NAME + "/", mux
}

// 暂停-恢复机制
func (s *SynthesisServer) wait() {
	s.cond.L.Lock()
	for !s.ok {
		// 暂停中
		s.cond.Wait()
	}
	s.cond.L.Unlock()
}

// 批处理错误分类：输入问题为InvalidArgument，数据损坏为FailedPrecondition
func toConnectError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, location.ErrUnsortedTrips),
		errors.Is(err, location.ErrMissingAnchor),
		errors.Is(err, algo.ErrUnknownMode),
		errors.Is(err, algo.ErrShapeMismatch),
		errors.Is(err, hotdeck.ErrUnknownField),
		errors.Is(err, hotdeck.ErrRaggedTable):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeFailedPrecondition, err)
	}
}

func (s *SynthesisServer) Match(
	ctx context.Context,
	req *connect.Request[MatchRequest],
) (*connect.Response[MatchResponse], error) {
	s.wait()
	in := req.Msg
	t := s.mu.RLock()
	matcher := s.matcher
	s.mu.RUnlock(t)
	if matcher == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("no source table loaded"))
	}
	seed := s.config.RandomSeed
	if in.Seed != nil {
		seed = *in.Seed
	}
	target := &hotdeck.Table{IDs: in.IDs, Columns: in.Columns}
	result, err := hotdeck.Run(ctx, target, matcher, hotdeck.RunOptions{Workers: s.config.Processes, Seed: seed})
	if err != nil {
		return nil, toConnectError(err)
	}
	out := &MatchResponse{
		Matches:    make([]Match, 0, result.Matched()),
		Unmatched:  result.Unmatched,
		Relaxation: result.Relaxation,
	}
	for i, id := range result.DonorIDs {
		if id != hotdeck.DEFAULT_ID {
			out.Matches = append(out.Matches, Match{PersonID: result.TargetIDs[i], SourceID: id})
		}
	}
	return connect.NewResponse(out), nil
}

func (s *SynthesisServer) AssignLocations(
	ctx context.Context,
	req *connect.Request[AssignLocationsRequest],
) (*connect.Response[AssignLocationsResponse], error) {
	s.wait()
	in := req.Msg
	t := s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock(t)
	if engine == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("no distance distributions or candidates loaded"))
	}
	if in.Seed != nil {
		engine = engine.WithSeed(*in.Seed)
	}
	anchors := lo.Associate(in.Anchors, func(a location.Anchors) (int64, *location.Anchors) {
		return a.PersonID, &a
	})
	output, err := engine.Run(ctx, in.Trips, anchors)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AssignLocationsResponse{
		Locations:   output.Locations,
		Convergence: output.Convergence,
		SuccessRate: output.SuccessRate(),
	}), nil
}

// SetResamplingFactors 以新的系数重加权原始分布并替换引擎，进行中的请求继续使用旧引擎
func (s *SynthesisServer) SetResamplingFactors(
	ctx context.Context,
	req *connect.Request[SetResamplingFactorsRequest],
) (*connect.Response[SetResamplingFactorsResponse], error) {
	s.wait()
	in := req.Msg
	if s.distributions == nil || s.candidates == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("no distance distributions or candidates loaded"))
	}
	for mode := range in.Factors {
		if _, ok := s.distributions[mode]; !ok {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%w: %s", algo.ErrUnknownMode, mode))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	config := s.engine.Config()
	config.ResamplingFactors = in.Factors
	engine, err := location.NewEngine(config, s.distributions, s.candidates)
	if err != nil {
		return nil, toConnectError(err)
	}
	s.engine = engine
	log.Infof("resampling factors set to %v", in.Factors)
	return connect.NewResponse(&SetResamplingFactorsResponse{Factors: in.Factors}), nil
}

// 暂停服务
func (s *SynthesisServer) Suspend() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.ok = false
}

// 恢复服务
func (s *SynthesisServer) Resume() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.ok = true
	s.cond.Broadcast()
}
