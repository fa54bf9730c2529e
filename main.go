package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.fiblab.net/sim/synthesis/hotdeck"
	"git.fiblab.net/sim/synthesis/location"
	"git.fiblab.net/sim/synthesis/location/algo"
	"git.fiblab.net/sim/synthesis/parallel"
	"github.com/sirupsen/logrus"
	easy "github.com/t-tomalak/logrus-easy-formatter"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var (
	// 配置信息
	mode              = flag.String("mode", "serve", "run mode [match, locate, serve]")
	configPath        = flag.String("config", "", "yaml config file, empty means defaults")
	mongoURI          = flag.String("mongo_uri", "", "mongo db uri")
	targetPathStr     = flag.String("target", "", "census persons to be matched [format: {fspath} or {db}.{col}]")
	sourcePathStr     = flag.String("source", "", "survey persons used as donors [format: {fspath} or {db}.{col}]")
	tripsPathStr      = flag.String("trips", "", "person trip chains [format: {fspath} or {db}.{col}]")
	anchorsPathStr    = flag.String("anchors", "", "home/work/education locations [format: {fspath} or {db}.{col}]")
	candidatesPathStr = flag.String("candidates", "", "secondary destination candidates [format: {fspath} or {db}.{col}]")
	distributionsStr  = flag.String("distributions", "", "distance distributions per mode [format: {fspath}.json or {db}.{col}]")
	outputPath        = flag.String("output", "synthesis.db", "sqlite output file")
	grpcEndpoint      = flag.String("listen", "localhost:52101", "connect listening address")
	logLevel          = flag.String("log-level", "info", "log level [debug, info, warn, error, fatal, panic]")

	// 性能测试
	benchmark = flag.Bool("benchmark", false, "benchmark mode")
	pprofAddr = flag.String("pprof", "", "pprof listening address, empty means disabled")

	LOG_LEVELS = map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"fatal": logrus.FatalLevel,
		"panic": logrus.PanicLevel,
	}
)

func mustPath(name, value string) *Path {
	path, err := NewPath(value)
	if err != nil {
		log.Fatalf("invalid %s path: %s", name, err)
	}
	return path
}

func main() {
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	flag.Parse()
	if level, ok := LOG_LEVELS[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		logrus.Fatalf("invalid log level: %s", *logLevel)
	}
	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if *pprofAddr != "" {
		// 启动pprof
		startHTTPDebugger(*pprofAddr)
	}

	if *benchmark {
		// 性能测试
		runBenchmark(config)
		return
	}

	// ctrl+c kill 取消当前批处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	loader := NewLoader(*mongoURI)
	defer loader.Close()

	switch *mode {
	case "match":
		runMatch(ctx, config, loader)
	case "locate":
		runLocate(ctx, config, loader)
	case "serve":
		serve(config, loader)
	default:
		log.Fatalf("invalid mode: %s", *mode)
	}
}

func loadMatcher(ctx context.Context, config *Config, loader *Loader, source *Path) *hotdeck.Matcher {
	table, err := loader.LoadTable(ctx, source, config.IDColumn, config.WeightColumn, config.Fields())
	if err != nil {
		log.Fatalf("failed to load source table from %s: %v", source, err)
	}
	matcher, err := hotdeck.NewMatcher(table, config.MandatoryFields, config.PreferenceFields, config.MatcherOptions())
	if err != nil {
		log.Fatalf("failed to build matcher: %v", err)
	}
	return matcher
}

func loadReference(ctx context.Context, loader *Loader, distributionsPath, candidatesPath *Path) (algo.Distributions, *algo.CandidateIndex) {
	distributions, err := loader.LoadDistributions(ctx, distributionsPath)
	if err != nil {
		log.Fatalf("failed to load distance distributions from %s: %v", distributionsPath, err)
	}
	candidates, err := loader.LoadCandidates(ctx, candidatesPath)
	if err != nil {
		log.Fatalf("failed to load candidates from %s: %v", candidatesPath, err)
	}
	return distributions, candidates
}

func openSink() *Sink {
	sink, err := OpenSink(*outputPath)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *outputPath, err)
	}
	return sink
}

func runMatch(ctx context.Context, config *Config, loader *Loader) {
	targetPath, sourcePath := mustPath("target", *targetPathStr), mustPath("source", *sourcePathStr)
	if targetPath == nil || sourcePath == nil {
		log.Fatalf("match mode needs -target and -source")
	}
	matcher := loadMatcher(ctx, config, loader, sourcePath)
	target, err := loader.LoadTable(ctx, targetPath, config.IDColumn, "", config.Fields())
	if err != nil {
		log.Fatalf("failed to load target table from %s: %v", targetPath, err)
	}
	result, err := hotdeck.Run(ctx, target, matcher, hotdeck.RunOptions{
		Workers:          config.Processes,
		Seed:             config.RandomSeed,
		ProgressInterval: parallel.PROGRESS_INTERVAL,
	})
	if err != nil {
		log.Fatalf("matching failed: %v", err)
	}
	// 只用于行数校验和日志，未匹配编号随结果写入unmatched表
	if _, _, err := hotdeck.RemoveUnmatched(target, result); err != nil {
		log.Fatalf("matching failed: %v", err)
	}
	sink := openSink()
	defer sink.Close()
	if err := sink.WriteMatching(result); err != nil {
		log.Fatalf("failed to write matching: %v", err)
	}
}

func runLocate(ctx context.Context, config *Config, loader *Loader) {
	tripsPath, anchorsPath := mustPath("trips", *tripsPathStr), mustPath("anchors", *anchorsPathStr)
	distributionsPath, candidatesPath := mustPath("distributions", *distributionsStr), mustPath("candidates", *candidatesPathStr)
	if tripsPath == nil || anchorsPath == nil || distributionsPath == nil || candidatesPath == nil {
		log.Fatalf("locate mode needs -trips, -anchors, -distributions and -candidates")
	}
	distributions, candidates := loadReference(ctx, loader, distributionsPath, candidatesPath)
	trips, err := loader.LoadTrips(ctx, tripsPath)
	if err != nil {
		log.Fatalf("failed to load trips from %s: %v", tripsPath, err)
	}
	anchors, err := loader.LoadAnchors(ctx, anchorsPath)
	if err != nil {
		log.Fatalf("failed to load anchors from %s: %v", anchorsPath, err)
	}
	engine, err := location.NewEngine(config.LocationConfig(), distributions, candidates)
	if err != nil {
		log.Fatalf("invalid location inputs: %v", err)
	}
	output, err := engine.Run(ctx, location.CollapsePrimaryActivities(trips), anchors)
	if err != nil {
		log.Fatalf("location assignment failed: %v", err)
	}
	sink := openSink()
	defer sink.Close()
	if err := sink.WriteLocations(output); err != nil {
		log.Fatalf("failed to write locations: %v", err)
	}
}

func serve(config *Config, loader *Loader) {
	ctx := context.Background()
	var matcher *hotdeck.Matcher
	if sourcePath := mustPath("source", *sourcePathStr); sourcePath != nil {
		matcher = loadMatcher(ctx, config, loader, sourcePath)
	}
	var distributions algo.Distributions
	var candidates *algo.CandidateIndex
	distributionsPath, candidatesPath := mustPath("distributions", *distributionsStr), mustPath("candidates", *candidatesPathStr)
	if distributionsPath != nil && candidatesPath != nil {
		distributions, candidates = loadReference(ctx, loader, distributionsPath, candidatesPath)
	}
	// 参考数据已全部读入内存
	loader.Close()
	server, err := NewSynthesisServer(config, matcher, distributions, candidates)
	if err != nil {
		log.Fatalf("failed to start service: %v", err)
	}

	// 启动tcp监听和初始化connect服务端
	mux := http.NewServeMux()
	mux.Handle(server.Handler())

	addr := *grpcEndpoint
	// 使用HTTP/2 w.o. TLS
	s := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	// 优雅退出
	// 创建监听退出chan
	signalCh := make(chan os.Signal, 1)
	//监听指定信号 ctrl+c kill
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Info("stopping...")
		go func() {
			<-signalCh
			os.Exit(1) // 强制结束
		}()
		// 暂停新请求
		server.Suspend()
		s.Close()
		os.Exit(0)
	}()

	log.Infof("server listening at %v", s.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("failed to serve: %v", err)
	}
	time.Sleep(1 * time.Second) // 延迟等待"优雅退出"
	log.Info("synthesis closes")
}
