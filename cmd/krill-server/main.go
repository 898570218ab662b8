package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"krill/internal/config"
	"krill/internal/engine"
	"krill/internal/logger"
	"krill/internal/network"
	"krill/internal/store"
	"krill/internal/version"
)

func main() {
	showVersion := flag.Bool("V", false, "print version and exit")
	addr := flag.String("addr", "", "listen address (ip:port)")
	engineName := flag.String("engine", "", "storage engine: kvs or bolt")
	configPath := flag.String("config", "", "path to YAML config file")
	quiet := flag.Bool("quiet", false, "log errors only")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// Flags beat the config file.
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *engineName != "" {
		cfg.Engine = *engineName
	}
	if *quiet {
		cfg.Quiet = true
	}

	log, err := logger.New(logger.Options{Quiet: cfg.Quiet, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	eng, err := openEngine(cfg, log)
	if err != nil {
		log.Errorw("engine open failed", "engine", cfg.Engine, "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	server, err := network.NewServer(log, cfg.Addr)
	if err != nil {
		log.Errorw("server start failed", "addr", cfg.Addr, "error", err)
		os.Exit(1)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Infow("signal received", "signal", sig.String())
		server.Shutdown()
	}()

	log.Infow("starting", "addr", cfg.Addr, "engine", cfg.Engine, "version", version.Version)
	if err := server.Listen(eng); err != nil {
		log.Errorw("server failed", "error", err)
		os.Exit(1)
	}
}

func openEngine(cfg config.Config, log *zap.SugaredLogger) (engine.Engine, error) {
	switch strings.ToLower(cfg.Engine) {
	case "", "kvs":
		opts := []store.Option{store.WithLogger(log)}
		if cfg.CompactThreshold > 0 {
			opts = append(opts, store.WithCompactThreshold(cfg.CompactThreshold))
		}
		return store.Open(cfg.DataDir, opts...)
	case "bolt":
		return engine.OpenBolt(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown engine %q, expected kvs or bolt", cfg.Engine)
	}
}
