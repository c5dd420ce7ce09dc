package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/gemshare/gemshare/pkg/api"
	"github.com/gemshare/gemshare/pkg/limits"
	"github.com/gemshare/gemshare/pkg/logging"
	"github.com/gemshare/gemshare/pkg/metrics"
	"github.com/gemshare/gemshare/pkg/sched"
	"github.com/gemshare/gemshare/pkg/server"
	"github.com/gemshare/gemshare/pkg/shutdown"
)

var cfgFile string

// rootCmd represents the scheduler daemon
var rootCmd = &cobra.Command{
	Use:   "gemscheduler",
	Short: "GPU time-slice scheduler for shared clients",
	Long: `gemscheduler arbitrates GPU time among containers sharing one device.
Pod managers connect over TCP to request execution quota; per-client limits
come from a resource config file that is re-read whenever it changes.`,
	RunE: run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default searches /kubeshare and . for gemscheduler.yaml)")
	flags.Int("port", 50051, "TCP port for pod manager connections")
	flags.Int("admin-port", 8080, "admin API and metrics port")
	flags.Float64("quota", 250.0, "static time quota in milliseconds")
	flags.Float64("min-quota", 100.0, "lower bound for the adaptive quota in milliseconds")
	flags.Float64("window", 10000.0, "sliding usage window in milliseconds")
	flags.String("limit-file", limits.DefaultFileName, "resource limit file name")
	flags.String("limit-file-dir", limits.DefaultDir, "directory containing the limit file")
	flags.String("dump-dir", ".", "directory history dumps are written to")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("json-log", false, "log in JSON format")

	for _, name := range []string{
		"port", "admin-port", "quota", "min-quota", "window",
		"limit-file", "limit-file-dir", "dump-dir", "log-level", "json-log",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

// initConfig reads in config file and GEMSHARE_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("/kubeshare")
		viper.AddConfigPath(".")
		viper.SetConfigName("gemscheduler")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GEMSHARE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Missing config file is fine; flags and env carry the defaults.
	viper.ReadInConfig()
}

func run(cmd *cobra.Command, args []string) error {
	level := logging.ParseLevel(viper.GetString("log-level"))
	logger, err := logging.NewFileLogger("gemini-scheduler", level, viper.GetBool("json-log"))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	limitPath := filepath.Join(viper.GetString("limit-file-dir"), viper.GetString("limit-file"))
	entries, err := limits.ParseFile(limitPath)
	if err != nil {
		logger.Error("Cannot read resource config", map[string]interface{}{"file": limitPath, "error": err.Error()})
		return fmt.Errorf("failed to read resource config %s: %w", limitPath, err)
	}
	reg := limits.NewRegistry()
	reg.Apply(entries)
	logger.Info(fmt.Sprintf("Loaded %d client limits from %s", reg.Len(), limitPath))

	cfg := sched.DefaultConfig()
	cfg.QuotaMS = viper.GetFloat64("quota")
	cfg.MinQuotaMS = viper.GetFloat64("min-quota")
	cfg.WindowMS = viper.GetFloat64("window")

	collector := metrics.NewCollector()
	scheduler := sched.New(cfg, reg, logger)

	watcher, err := limits.NewWatcher(limitPath, logger, scheduler.ReloadLimits)
	if err != nil {
		logger.Warn("Limit hot reload disabled", map[string]interface{}{"error": err.Error()})
		watcher = nil
	} else {
		watcher.Start()
	}

	go scheduler.Run()

	srv := server.New(server.Config{Addr: fmt.Sprintf(":%d", viper.GetInt("port"))}, scheduler, collector, logger)
	if err := srv.Start(); err != nil {
		return err
	}

	adminHandler := api.NewAdminHandler(scheduler, collector, logger)
	router := mux.NewRouter()
	adminHandler.RegisterRoutes(router)
	adminSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", viper.GetInt("admin-port")),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("Admin API listening", map[string]interface{}{"addr": adminSrv.Addr})
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	// SIGUSR1 dumps the execution history; scheduling keeps running.
	dumpCh := make(chan os.Signal, 1)
	signal.Notify(dumpCh, unix.SIGUSR1)
	dumpDir := viper.GetString("dump-dir")
	go func() {
		for range dumpCh {
			if _, err := scheduler.DumpHistory(dumpDir); err != nil {
				logger.Warn("History dump failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}()

	// Registered in reverse teardown order: the manager runs LIFO.
	shutdownMgr := shutdown.New(30 * time.Second)
	shutdownMgr.Register(shutdown.CloseResource(logger, "logger"))
	if watcher != nil {
		shutdownMgr.Register(func(ctx context.Context) error {
			return watcher.Stop()
		})
	}
	shutdownMgr.Register(func(ctx context.Context) error {
		logger.Info("Stopping scheduling loop...")
		scheduler.Stop()
		return nil
	})
	shutdownMgr.Register(func(ctx context.Context) error {
		logger.Info("Stopping client server...")
		return srv.Shutdown(ctx)
	})
	shutdownMgr.Register(shutdown.StopHTTPServer(adminSrv, "admin"))

	// Cap the component log at 100 MB.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := logger.RotateIfNeeded(100 << 20); err != nil {
					logger.Warn("Log rotation failed", map[string]interface{}{"error": err.Error()})
				}
			case <-shutdownMgr.Done():
				return
			}
		}
	}()

	logger.Info("Scheduler ready", map[string]interface{}{
		"port":       viper.GetInt("port"),
		"admin_port": viper.GetInt("admin-port"),
		"quota_ms":   cfg.QuotaMS,
		"window_ms":  cfg.WindowMS,
		"clients":    reg.Len(),
	})

	shutdownMgr.Wait()
	shutdownMgr.Shutdown()
	return nil
}
