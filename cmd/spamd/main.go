// Command spamd is the content-filtering daemon: it compiles the rule
// configuration (C2), wires the rule engine (C3) to the Bayes classifier
// (C4) and the DKIM/SPF/DMARC network plugins, and serves the C7 wire
// protocol behind the C6 prefork pool. The admin HTTP API exposes reload,
// learn/forget and pool-health endpoints alongside Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mail-cci/spamassassin/internal/api"
	"github.com/mail-cci/spamassassin/internal/api/routes"
	"github.com/mail-cci/spamassassin/internal/auth/dkim"
	"github.com/mail-cci/spamassassin/internal/auth/dmarc"
	"github.com/mail-cci/spamassassin/internal/auth/spf"
	"github.com/mail-cci/spamassassin/internal/bayes"
	"github.com/mail-cci/spamassassin/internal/config"
	"github.com/mail-cci/spamassassin/internal/daemon"
	"github.com/mail-cci/spamassassin/internal/ruleconf"
	"github.com/mail-cci/spamassassin/internal/rules"
	"github.com/mail-cci/spamassassin/internal/scoring"
	"github.com/mail-cci/spamassassin/internal/storage"
	"github.com/mail-cci/spamassassin/internal/storage/boltbayes"
	"github.com/mail-cci/spamassassin/internal/storage/redisbayes"
	"github.com/mail-cci/spamassassin/pkg/logger"
)

var (
	cfg      *config.Config
	cfgMutex sync.RWMutex

	mainLog   *zap.Logger
	rulesLog  *zap.Logger
	daemonLog *zap.Logger
	apiLog    *zap.Logger
)

func main() {
	if err := initConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "spamd: config: %v\n", err)
		os.Exit(1)
	}
	if err := initLoggers(); err != nil {
		fmt.Fprintf(os.Stderr, "spamd: logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	scoring.Init(cfg)

	store, err := loadRuleStore(cfg)
	if err != nil {
		mainLog.Fatal("loading rule configuration", zap.Error(err))
	}

	bayesFilter, bayesCloser, err := buildBayesFilter(cfg, store)
	if err != nil {
		mainLog.Fatal("building bayes filter", zap.Error(err))
	}
	if bayesCloser != nil {
		defer bayesCloser()
	}

	plugins := buildAuthPlugins(cfg, mainLog)

	engine := rules.NewEngine(store, plugins)
	engine.Bayes = bayesFilter
	engine.StopAtThreshold = true
	engine.Logf = rulesLog.Sugar().Infof

	engineRef := &atomic.Pointer[rules.Engine]{}
	engineRef.Store(engine)

	var audit *storage.Store
	if cfg.DatabaseURL != "" {
		db, err := storage.New(cfg.DatabaseURL, cfg.MaxDBConnections)
		if err != nil {
			mainLog.Warn("opening audit database, audit trail disabled", zap.Error(err))
		} else {
			audit = storage.NewStore(db)
		}
	}

	listener, err := net.Listen("tcp", cfg.Daemon.ListenAddr)
	if err != nil {
		mainLog.Fatal("listening on daemon address", zap.String("addr", cfg.Daemon.ListenAddr), zap.Error(err))
	}

	handler := &daemon.RequestHandler{
		EngineRef: engineRef,
		BayesOn:   bayesFilter != nil,
		NetOn:     !store.Settings.SkipRBLChecks,
		Logf:      daemonLog.Sugar().Infof,
		Audit:     audit,
	}

	pool := daemon.NewPool(daemon.Config{
		MinChildren: cfg.Daemon.MinChildren,
		MaxChildren: cfg.Daemon.MaxChildren,
		MinIdle:     cfg.Daemon.MinIdle,
		MaxIdle:     cfg.Daemon.MaxIdle,
	}, listener, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reload := func() error { return reloadRuleStore(engineRef, bayesFilter) }

	api.InitLogger(apiLog)
	deps := routes.AdminDeps{Reload: reload, Bayes: bayesFilter, Pool: pool}
	router := api.NewServer(cfg, deps)

	httpSrv := &http.Server{Addr: ":" + cfg.ApiPort, Handler: router}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pool.Run(ctx); err != nil && err != context.Canceled {
			mainLog.Error("daemon pool exited", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		mainLog.Info("admin api listening", zap.String("port", cfg.ApiPort))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mainLog.Error("admin api server exited", zap.Error(err))
		}
	}()

	mainLog.Info("spamd started",
		zap.String("daemon_addr", cfg.Daemon.ListenAddr),
		zap.String("prefork_mode", cfg.Daemon.PreforkMode),
		zap.String("bayes_backend", cfg.Bayes.Backend))

	handleSignals(cancel, engineRef, bayesFilter, pool, httpSrv)
	wg.Wait()
}

func initConfig() error {
	c, err := config.LoadConfig()
	if err != nil {
		return err
	}
	cfgMutex.Lock()
	cfg = c
	cfgMutex.Unlock()
	return nil
}

func initLoggers() error {
	base, err := logger.Init(logger.LogConfig{
		Level:         cfg.LogLevel,
		FilePath:      cfg.LogPath,
		MaxSizeMB:     100,
		MaxBackups:    5,
		MaxAgeDays:    30,
		ConsoleOutput: cfg.Env != "production",
	})
	if err != nil {
		return err
	}
	mainLog = base.Named("main")
	rulesLog = base.Named("rules")
	daemonLog = base.Named("daemon")
	apiLog = base.Named("api")
	return nil
}

// loadRuleStore compiles every .cf file under cfg.RulesPath (or the file
// itself, if it names one) into a fresh *ruleconf.Store (§4.2).
func loadRuleStore(cfg *config.Config) (*ruleconf.Store, error) {
	store := ruleconf.NewStore()

	files, err := rulesFiles(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	include := func(path string) (string, error) {
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.RulesPath, path)
		}
		b, err := os.ReadFile(path)
		return string(b), err
	}

	for _, f := range files {
		text, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		ruleconf.Parse(store, string(text), false, include)
	}
	store.Finish()
	if n := store.ErrorCount(); n > 0 {
		for _, w := range store.Warnings() {
			rulesLog.Warn(w)
		}
		return nil, fmt.Errorf("%d error(s) parsing rule configuration", n)
	}
	return store, nil
}

func rulesFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat rules path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cf") {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	return files, nil
}

// reloadRuleStore re-parses the rule configuration and, on success,
// atomically swaps it into engineRef so every worker picks up the new
// ruleset on its next request (§4.2's "atomically replaces the compiled
// ruleset"); a parse failure leaves the running engine untouched.
func reloadRuleStore(engineRef *atomic.Pointer[rules.Engine], bayesFilter *bayes.Filter) error {
	cfgMutex.RLock()
	c := cfg
	cfgMutex.RUnlock()

	store, err := loadRuleStore(c)
	if err != nil {
		return err
	}

	plugins := buildAuthPlugins(c, mainLog)
	next := rules.NewEngine(store, plugins)
	next.Bayes = bayesFilter
	next.StopAtThreshold = true
	next.Logf = rulesLog.Sugar().Infof
	engineRef.Store(next)
	mainLog.Info("rule configuration reloaded")
	return nil
}

func buildAuthPlugins(cfg *config.Config, log *zap.Logger) *rules.AuthPlugins {
	return &rules.AuthPlugins{
		DKIM:  dkim.NewVerifier(cfg, log.Named("dkim")),
		SPF:   spf.NewVerifier(cfg),
		DMARC: dmarc.NewVerifier(cfg, log.Named("dmarc"), dmarc.NewSystemResolver()),
	}
}

// buildBayesFilter selects the token store backend per cfg.Bayes.Backend
// (§4.4) and returns a cleanup func to close it on shutdown.
func buildBayesFilter(cfg *config.Config, store *ruleconf.Store) (*bayes.Filter, func(), error) {
	if !store.Settings.UseBayes {
		return nil, nil, nil
	}

	ts, closer, err := openBayesStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	combiner := bayes.NaiveCombiner
	if store.Settings.BayesUseChi2Combining {
		combiner = bayes.ChiSquaredCombiner
	}
	params := bayes.Params{
		Combiner:        combiner,
		UseHapaxes:      store.Settings.BayesUseHapaxes,
		ExpiryInterval:  24 * time.Hour,
		ExpiryMinTokens: store.Settings.BayesExpiryMinDBSize,
	}
	return bayes.NewFilter(ts, params), closer, nil
}

func openBayesStore(cfg *config.Config) (bayes.TokenStore, func(), error) {
	switch cfg.Bayes.Backend {
	case "redis":
		ts := redisbayes.New(cfg.RedisURL)
		return ts, func() { ts.Close() }, nil
	default:
		path := cfg.Bayes.BoltPath
		if path == "" {
			path = "/var/lib/spamassassin/bayes.db"
		}
		ts, err := boltbayes.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return ts, func() { ts.Close() }, nil
	}
}

func handleSignals(cancel context.CancelFunc, engineRef *atomic.Pointer[rules.Engine], bayesFilter *bayes.Filter, pool *daemon.Pool, httpSrv *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			if err := reloadRuleStore(engineRef, bayesFilter); err != nil {
				mainLog.Error("reload failed", zap.Error(err))
			}
		case syscall.SIGINT, syscall.SIGTERM:
			mainLog.Info("shutting down", zap.String("signal", sig.String()))
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = httpSrv.Shutdown(shutdownCtx)
			shutdownCancel()
			pool.Close()
			cancel()
			return
		}
	}
}
