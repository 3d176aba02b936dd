// Package main implements a network-wide DNS ad/tracker blocker: a sorted, bloom-prefiltered
// domain index backs 0.0.0.0 sinkholing, with custom overrides, multi-protocol upstream
// forwarding (UDP/TCP/DoT/DoH), a daily blocklist refresh, and an admin HTTP surface for runtime
// control.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func main() {
	configFile := "config.yml"
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		configFile = ""
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	log, err := newAppLogger(cfg.Env, cfg.LogLevel, cfg.LogBlocks, cfg.LogOverwrites)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer log.base.Sync()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.warnLog("unknown timezone, falling back to UTC", zap.String("timezone", cfg.Timezone))
		loc = time.UTC
	}

	ab, err := newAdBlocker(cfg, log)
	if err != nil {
		log.errorLog("constructing ad blocker", zap.Error(err))
		os.Exit(1)
	}

	admin := newAdminServer(ab)
	if err := ab.bootstrap(admin); err != nil {
		log.errorLog("bootstrap failed", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ab.startBackgroundServices(ctx)

	sched := newScheduler(loc)
	if err := sched.startDailyReload(cfg.AlarmHour, func() {
		if err := ab.loadBlockLists(ab.defaultSources()); err != nil {
			log.errorLog("scheduled reload failed", zap.Error(err))
		}
	}); err != nil {
		log.errorLog("starting scheduler", zap.Error(err))
		os.Exit(1)
	}
	defer sched.stop()

	go func() {
		if err := admin.run(cfg.AdminListenAddr); err != nil {
			log.errorLog("admin server stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := ab.serveDNS(cfg.ListenAddr); err != nil {
			log.errorLog("DNS server stopped", zap.Error(err))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.infoLog("shutting down")
}
