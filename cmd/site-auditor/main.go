package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"site-auditor/pkg/audit"
	"site-auditor/pkg/cache"
	"site-auditor/pkg/config"
	"site-auditor/pkg/orchestrate"
	"site-auditor/pkg/watch"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	configFileFlag := flag.String("config", "config.yaml", "Path to YAML config file")
	siteKeyFlag := flag.String("site", "", "Site key from config file (default: all sites)")
	modeFlag := flag.String("mode", "crawl", "Run mode: crawl, audit, watch, cache-stats, cache-clear")
	intervalFlag := flag.Duration("interval", time.Hour, "Re-audit interval for watch mode")
	logLevelFlag := flag.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevelFlag)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", *logLevelFlag, err)
	} else {
		log.SetLevel(level)
	}

	log.Infof("Loading configuration from %s", *configFileFlag)
	yamlFile, err := os.ReadFile(*configFileFlag)
	if err != nil {
		log.Fatalf("Read config file '%s' error: %v", *configFileFlag, err)
	}
	var appCfg config.AppConfig
	if err := yaml.Unmarshal(yamlFile, &appCfg); err != nil {
		log.Fatalf("Parse config file '%s' error: %v", *configFileFlag, err)
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	siteKeys := orchestrate.AllSiteKeys(&appCfg)
	if *siteKeyFlag != "" {
		siteKeys = strings.Split(*siteKeyFlag, ",")
		if err := orchestrate.ValidateSiteKeys(&appCfg, siteKeys); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}
	if len(siteKeys) == 0 {
		log.Fatalf("Error: no sites configured in '%s'", *configFileFlag)
	}

	// Site validation applies defaults in place; write the copies back
	for _, key := range siteKeys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			log.Fatalf("Site '%s' configuration error: %v", key, err)
		}
		for _, w := range siteWarnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Sites[key] = siteCfg
	}

	logAppConfig(&appCfg, log)

	var runCtx context.Context
	var cancelRun context.CancelFunc
	if appCfg.GlobalCrawlTimeout > 0 {
		log.Infof("Setting global crawl timeout: %v", appCfg.GlobalCrawlTimeout)
		runCtx, cancelRun = context.WithTimeout(context.Background(), appCfg.GlobalCrawlTimeout)
	} else {
		runCtx, cancelRun = context.WithCancel(context.Background())
	}
	defer cancelRun()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelRun()
		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	entry := logrus.NewEntry(log)
	store, err := orchestrate.OpenStore(&appCfg, entry)
	if err != nil {
		log.Fatalf("Failed to open content cache: %v", err)
	}
	defer store.Close()

	if gcStore, ok := store.(*cache.BadgerStore); ok {
		go gcStore.RunGC(runCtx, 10*time.Minute)
	}

	switch *modeFlag {
	case "crawl":
		runCrawl(runCtx, &appCfg, store, siteKeys, entry, log)
	case "audit":
		runAudit(runCtx, &appCfg, store, siteKeys, entry, log)
	case "watch":
		runWatch(runCtx, &appCfg, store, siteKeys, *intervalFlag, entry, log)
	case "cache-stats":
		runCacheStats(&appCfg, store, siteKeys, log)
	case "cache-clear":
		runCacheClear(&appCfg, store, siteKeys, log)
	default:
		log.Fatalf("Error: unknown mode '%s' (want crawl, audit, watch, cache-stats, or cache-clear)", *modeFlag)
	}
}

func runCrawl(ctx context.Context, appCfg *config.AppConfig, store cache.Store, siteKeys []string, entry *logrus.Entry, log *logrus.Logger) {
	o := orchestrate.New(appCfg, store, nil, entry)
	results, crawls := o.Crawl(ctx, siteKeys)
	o.LogSummary(results)

	for key, crawlResult := range crawls {
		fmt.Printf("# %s\n", key)
		for _, d := range crawlResult.Discovered {
			fmt.Printf("%d\t%s\t%s\n", d.Depth, d.Method, d.URL)
		}
	}
	exitOnFailure(ctx, results, log)
}

func runAudit(ctx context.Context, appCfg *config.AppConfig, store cache.Store, siteKeys []string, entry *logrus.Entry, log *logrus.Logger) {
	registry := audit.NewRegistry()
	if err := audit.RegisterBuiltinRules(registry); err != nil {
		log.Fatalf("Failed to register audit rules: %v", err)
	}
	if err := audit.RegisterGeneratorRule(registry); err != nil {
		log.Fatalf("Failed to register audit rules: %v", err)
	}

	o := orchestrate.New(appCfg, store, registry, entry)
	results := o.Audit(ctx, siteKeys)
	o.LogSummary(results)
	exitOnFailure(ctx, results, log)
}

func runWatch(ctx context.Context, appCfg *config.AppConfig, store cache.Store, siteKeys []string, interval time.Duration, entry *logrus.Entry, log *logrus.Logger) {
	registry := audit.NewRegistry()
	if err := audit.RegisterBuiltinRules(registry); err != nil {
		log.Fatalf("Failed to register audit rules: %v", err)
	}
	if err := audit.RegisterGeneratorRule(registry); err != nil {
		log.Fatalf("Failed to register audit rules: %v", err)
	}

	o := orchestrate.New(appCfg, store, registry, entry)
	scheduler := watch.NewScheduler(o, siteKeys, interval, appCfg.OutputBaseDir, entry)
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Watch mode failed: %v", err)
	}
	log.Info("Watch mode stopped.")
}

func runCacheStats(appCfg *config.AppConfig, store cache.Store, siteKeys []string, log *logrus.Logger) {
	for _, key := range siteKeys {
		siteCfg := appCfg.Sites[key]
		stats, err := store.Stats(siteCfg.SeedURLs[0])
		if err != nil {
			log.Errorf("Stats for site '%s' failed: %v", key, err)
			continue
		}
		fmt.Printf("%s: %d urls, %d bytes total (static %d, rendered %d), %d with rendered, %d with css\n",
			key, stats.EntryCount, stats.TotalBytes, stats.StaticBytes, stats.RenderedBytes,
			stats.WithRenderedCount, stats.WithCSSCount)
		if !stats.OldestCachedAt.IsZero() {
			fmt.Printf("%s: oldest %s, newest %s\n",
				key, stats.OldestCachedAt.Format(time.RFC3339), stats.NewestCachedAt.Format(time.RFC3339))
		}
	}
}

func runCacheClear(appCfg *config.AppConfig, store cache.Store, siteKeys []string, log *logrus.Logger) {
	for _, key := range siteKeys {
		siteCfg := appCfg.Sites[key]
		if err := store.Clear(siteCfg.SeedURLs[0]); err != nil {
			log.Errorf("Clear for site '%s' failed: %v", key, err)
			continue
		}
		log.Infof("Cleared cache for site '%s'", key)
	}
}

func exitOnFailure(ctx context.Context, results []orchestrate.SiteResult, log *logrus.Logger) {
	for _, r := range results {
		if r.Success {
			continue
		}
		if errors.Is(r.Error, context.Canceled) && ctx.Err() != nil {
			log.Warn("Run cancelled gracefully.")
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Workers:%d, MaxReqs:%d, MaxReqPerHost:%d, DefaultDelay:%v",
		appCfg.WorkerConcurrency, appCfg.MaxRequests, appCfg.MaxRequestsPerHost, appCfg.DefaultDelayPerHost)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Global Config Cache: Dir:%s, Backend:%s, BestEffort:%t",
		appCfg.CacheDir, appCfg.CacheBackend, appCfg.BestEffortCache)
	log.Infof("Global Config Rendering: Enabled:%t, Timeout:%v, Sessions:%d",
		appCfg.EnableRendering, appCfg.RenderTimeout, appCfg.RenderSessions)
	log.Infof("Global Config Timeouts: Request:%v, SemaphoreAcquire:%v, GlobalCrawl:%v",
		appCfg.RequestTimeout, appCfg.SemaphoreAcquireTimeout, appCfg.GlobalCrawlTimeout)
}
