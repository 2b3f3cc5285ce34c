package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"coin/internal/infrastructure/config"
	_ "coin/internal/infrastructure/exchange/binance"
	_ "coin/internal/infrastructure/exchange/bitfinex"
	_ "coin/internal/infrastructure/exchange/bybit"
	_ "coin/internal/infrastructure/exchange/luno"
	"coin/internal/infrastructure/feed"
	"coin/internal/infrastructure/logger"
	"coin/internal/infrastructure/svc"

	"github.com/rs/zerolog/log"
)

// stringList 可重复的命令行参数
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var exchanges, filters stringList

	configPath := flag.String("config", "", "path to config.toml (optional)")
	flag.Var(&exchanges, "exchange", "exchange to listen to, repeatable; positional arguments are accepted too")
	assets := flag.String("assets", "", "comma separated assets (default $"+config.EnvAssets+" or "+config.DefaultAsset+")")
	currencies := flag.String("currencies", "", "comma separated currencies (default $"+config.EnvCurrencies+" or "+config.DefaultCurrency+")")
	channel := flag.String("channel", "trades", "channel for -exchange subscriptions: trades|ticker")
	timeout := flag.Int("timeout", config.DefaultTimeoutSec, "run budget in seconds, 0 runs until interrupted")
	output := flag.String("output", config.DefaultOutput, "output file, - for stdout")
	rawOutput := flag.String("raw-output", "", "mirror raw exchange frames to this file")
	batchSize := flag.Int("batch-size", 1, "raw frames buffered before each flush of -raw-output")
	asJSON := flag.Bool("json", false, "write events as JSON objects")
	asEvents := flag.Bool("events", false, "write events as text lines (default)")
	kind := flag.String("type", "", "keep only events of this type: Trade|Heartbeat|Ticker")
	flag.Var(&filters, "filter", "filter expression, repeatable (e.g. 'price >= 30000 and side == buy')")
	logLevel := flag.String("log-level", "", "debug|info|warn|error")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: coin [flags] [exchange ...]\n\nexchanges: %s\n\n", strings.Join(feed.Names(), ", "))
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := logger.Setup(*logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	if !set["log-level"] && cfg.App.LogLevel != "" {
		if err := logger.Setup(cfg.App.LogLevel); err != nil {
			log.Fatal().Err(err).Msg("invalid app.log_level")
		}
	}

	// 命令行参数覆盖配置文件
	for _, name := range append(exchanges, flag.Args()...) {
		l := config.Listen{Exchange: name, Channel: *channel}
		if *assets != "" {
			l.Assets = strings.Split(*assets, ",")
		}
		if *currencies != "" {
			l.Currencies = strings.Split(*currencies, ",")
		}
		if err := cfg.AddListen(l); err != nil {
			log.Fatal().Err(err).Str("exchange", name).Msg("invalid subscription")
		}
	}
	if set["timeout"] {
		if *timeout < 0 {
			log.Fatal().Int("timeout", *timeout).Msg("timeout must be >= 0")
		}
		cfg.SetTimeout(time.Duration(*timeout) * time.Second)
	}
	if set["output"] {
		cfg.Collect.Output = *output
	}
	if set["raw-output"] {
		cfg.Collect.RawOutput = *rawOutput
	}
	if set["batch-size"] {
		cfg.Collect.BatchSize = *batchSize
	}
	if set["type"] {
		cfg.Collect.Type = *kind
	}
	if len(filters) > 0 {
		cfg.Collect.Filters = append(cfg.Collect.Filters, filters...)
	}
	switch {
	case *asJSON && *asEvents:
		log.Fatal().Msg("-json and -events are mutually exclusive")
	case *asJSON:
		cfg.Collect.Format = "json"
	case *asEvents:
		cfg.Collect.Format = "events"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialization failed")
	}

	log.Info().
		Str("config", *configPath).
		Strs("subscriptions", sc.Subscriptions()).
		Dur("timeout", cfg.Timeout()).
		Str("output", cfg.Collect.Output).
		Msg("coin started")

	sum, runErr := sc.Run(ctx)
	if err := sc.Close(); err != nil {
		log.Error().Err(err).Msg("close resources failed")
	}

	for id, reason := range sum.Failed {
		log.Warn().Str("sub", id).Str("error", reason).Msg("subscription failed")
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("collect exited with error")
		os.Exit(1)
	}
}
