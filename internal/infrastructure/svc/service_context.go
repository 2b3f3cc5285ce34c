package svc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"coin/internal/application/port"
	"coin/internal/application/usecase/collect"
	"coin/internal/domain/model"
	"coin/internal/infrastructure/config"
	"coin/internal/infrastructure/feed"
	"coin/internal/infrastructure/messaging/nats"
	"coin/internal/infrastructure/metrics"
	"coin/internal/infrastructure/storage/composite"
	"coin/internal/infrastructure/storage/influx"
	"coin/internal/infrastructure/storage/postgres"
	redisrepo "coin/internal/infrastructure/storage/redis"
	sqliterepo "coin/internal/infrastructure/storage/sqlite"
	"coin/internal/infrastructure/websocket"
	"coin/internal/interfaces/console"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层
	Metrics *metrics.Collector
	raw     *console.RawWriter
	feeds   map[string]port.Feed

	// 输出端口（由 collect.Service 在 Run 结束时关闭）
	Sink port.Sink

	Pipeline *collect.Pipeline
	Service  *collect.Service

	subscriptions []string
	ran           atomic.Bool

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Metrics:     metrics.NewCollector(),
		feeds:       make(map[string]port.Feed),
		closerChain: make([]func() error, 0),
	}

	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 按依赖顺序初始化：输出 → 管道 → 协调器 → 订阅
func (sc *ServiceContext) initializeComponents() error {
	if err := sc.initRawOutput(); err != nil {
		return fmt.Errorf("raw output: %w", err)
	}
	if err := sc.initializeStorage(); err != nil {
		return err
	}
	if err := sc.initPipeline(); err != nil {
		return err
	}

	sc.Service = collect.NewService(collect.ServiceDeps{
		Pipeline: sc.Pipeline,
		Sink:     sc.Sink,
		Budget:   sc.Config.Timeout(),
		Grace:    sc.Config.Grace(),
		BusSize:  sc.Config.App.BusSize,
		Metrics:  sc.Metrics,
	})

	if err := sc.initSubscriptions(); err != nil {
		return err
	}
	log.Info().
		Int("subscriptions", len(sc.subscriptions)).
		Str("sink", sc.Sink.Name()).
		Strs("stages", sc.Pipeline.Stages()).
		Msg("✓ All components initialized")
	return nil
}

func (sc *ServiceContext) initRawOutput() error {
	dest := sc.Config.Collect.RawOutput
	if dest == "" {
		return nil
	}
	raw, err := console.NewRawWriter(dest, sc.Config.Collect.BatchSize)
	if err != nil {
		return err
	}
	sc.raw = raw
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Str("path", dest).Msg("closing raw output")
		return raw.Close()
	})
	return nil
}

// initializeStorage 组装输出：行输出始终存在，结构化存储按配置追加
func (sc *ServiceContext) initializeStorage() error {
	var sinks []port.Sink
	fail := func(name string, err error) error {
		for i := len(sinks) - 1; i >= 0; i-- {
			_ = sinks[i].Close()
		}
		return fmt.Errorf("%w: %s: %w", ErrStorageInitFailed, name, err)
	}

	out, err := console.NewSink(sc.Config.Collect.Output)
	if err != nil {
		return fail("output", err)
	}
	sinks = append(sinks, out)

	s := sc.Config.Sinks
	if s.SQLite.Enabled {
		repo, err := sqliterepo.New(s.SQLite.Path)
		if err != nil {
			return fail("sqlite", err)
		}
		sinks = append(sinks, repo)
		log.Info().Str("path", s.SQLite.Path).Msg("✓ SQLite initialized")
	}
	if s.Postgres.Enabled {
		repo, err := postgres.New(s.Postgres.DSN)
		if err != nil {
			return fail("postgres", err)
		}
		sinks = append(sinks, repo)
		log.Info().Msg("✓ Postgres initialized")
	}
	if s.Redis.Enabled {
		repo, err := redisrepo.Dial(sc.Ctx, s.Redis.Addr, s.Redis.DB, s.Redis.Stream, s.Redis.Channel)
		if err != nil {
			return fail("redis", err)
		}
		sinks = append(sinks, repo)
		log.Info().Str("addr", s.Redis.Addr).Int("db", s.Redis.DB).Str("stream", s.Redis.Stream).Msg("✓ Redis initialized")
	}
	if s.NATS.Enabled {
		sink, err := nats.New(s.NATS.URL, s.NATS.Subject)
		if err != nil {
			return fail("nats", err)
		}
		sinks = append(sinks, sink)
		log.Info().Str("url", s.NATS.URL).Str("subject", s.NATS.Subject).Msg("✓ NATS initialized")
	}
	if s.Influx.Enabled {
		icfg := influx.Config{URL: s.Influx.URL, Token: s.Influx.Token, Org: s.Influx.Org, Bucket: s.Influx.Bucket}
		sinks = append(sinks, influx.New(icfg))
		log.Info().Stringer("influx", icfg).Msg("✓ InfluxDB initialized")
	}

	if len(sinks) == 1 {
		sc.Sink = sinks[0]
	} else {
		sc.Sink = composite.New(sinks...)
	}
	return nil
}

func (sc *ServiceContext) initPipeline() error {
	opts := collect.PipelineOptions{Filters: sc.Config.Collect.Filters}
	if t := sc.Config.Collect.Type; t != "" {
		kind, err := model.ParseKind(t)
		if err != nil {
			return err
		}
		opts.Kind = kind
	}
	format, err := collect.ParseFormat(sc.Config.Collect.Format)
	if err != nil {
		return err
	}
	opts.Format = format

	p, err := collect.BuildPipeline(opts, sc.Metrics)
	if err != nil {
		return err
	}
	sc.Pipeline = p
	return nil
}

// initSubscriptions 为每个 [[listen]] 的每个交易对排队订阅
func (sc *ServiceContext) initSubscriptions() error {
	for _, l := range sc.Config.Listen {
		f, err := sc.feed(l.Exchange)
		if err != nil {
			return err
		}
		ch, err := port.ParseChannel(l.Channel)
		if err != nil {
			return fmt.Errorf("listen %s: %w", l.Exchange, err)
		}
		for _, pair := range l.Pairs() {
			id, err := sc.Service.Listen(f, pair, ch)
			if err != nil {
				return fmt.Errorf("listen %s %s: %w", l.Exchange, pair, err)
			}
			sc.subscriptions = append(sc.subscriptions, id)
		}
	}
	if len(sc.subscriptions) == 0 {
		return ErrNoSubscriptions
	}
	return nil
}

// feed 每个交易所只创建一个客户端
func (sc *ServiceContext) feed(name string) (port.Feed, error) {
	if f, ok := sc.feeds[name]; ok {
		return f, nil
	}
	ex := sc.Config.ExchangeConfig(name)
	retry := websocket.DefaultRetryConfig
	retry.MaxRetries = ex.DialRetries

	opts := feed.Options{
		WsURL:        ex.WsURL,
		APIKeyID:     ex.APIKeyID,
		APIKeySecret: ex.APIKeySecret,
		Retry:        retry,
	}
	if sc.raw != nil {
		opts.Raw = sc.raw
	}
	f, err := feed.New(name, opts)
	if err != nil {
		return nil, err
	}
	sc.feeds[name] = f
	return f, nil
}

// Subscriptions 已排队的订阅 id
func (sc *ServiceContext) Subscriptions() []string {
	return append([]string(nil), sc.subscriptions...)
}

// Run 运行采集直到预算耗尽、ctx 结束或所有订阅结束；启用时同时提供 /metrics
func (sc *ServiceContext) Run(ctx context.Context) (collect.Summary, error) {
	if !sc.ran.CompareAndSwap(false, true) {
		return collect.Summary{}, collect.ErrServiceStarted
	}
	if sc.Config.Metrics.Enabled {
		mctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := sc.Metrics.Serve(mctx, sc.Config.Metrics.Addr); err != nil {
				log.Error().Err(err).Str("addr", sc.Config.Metrics.Addr).Msg("metrics server stopped")
			}
		}()
	}
	return sc.Service.Run(ctx)
}

// Stop 请求提前结束运行
func (sc *ServiceContext) Stop() {
	if sc.Service != nil {
		sc.Service.Stop()
	}
}

// Close 关闭 ServiceContext 中的所有资源
// 应该在应用退出时调用
func (sc *ServiceContext) Close() error {
	var errs []error
	// Run 会关闭 sink；未运行时由这里负责
	if sc.Sink != nil && sc.ran.CompareAndSwap(false, true) {
		if err := sc.Sink.Close(); err != nil {
			log.Error().Err(err).Str("sink", sc.Sink.Name()).Msg("error closing sink")
			errs = append(errs, err)
		}
	}

	// 按照相反的顺序关闭所有资源
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
			errs = append(errs, err)
		}
	}
	sc.closerChain = nil
	return errors.Join(errs...)
}
