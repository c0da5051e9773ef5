package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/usbthief/internal/config"
	"github.com/cuemby/usbthief/internal/copyexec"
	"github.com/cuemby/usbthief/internal/copytask"
	"github.com/cuemby/usbthief/internal/dedup"
	"github.com/cuemby/usbthief/internal/device"
	"github.com/cuemby/usbthief/internal/eventbus"
	"github.com/cuemby/usbthief/internal/load"
	"github.com/cuemby/usbthief/internal/log"
	"github.com/cuemby/usbthief/internal/metrics"
	"github.com/cuemby/usbthief/internal/platform"
	"github.com/cuemby/usbthief/internal/ratelimit"
	"github.com/cuemby/usbthief/internal/recordstore"
	"github.com/cuemby/usbthief/internal/recycler"
	"github.com/cuemby/usbthief/internal/scanner"
	"github.com/cuemby/usbthief/internal/scheduler"
	"github.com/cuemby/usbthief/internal/speed"
	"github.com/cuemby/usbthief/internal/storage"
	"github.com/cuemby/usbthief/internal/svc"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "usbthiefd",
	Short: "usbthiefd - removable storage mirroring daemon",
	Long: `usbthiefd watches for removable storage volumes and mirrors their
contents into a local work directory under adaptive rate and priority
control, recycling old copies when the work volume runs low on space.`,
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"usbthiefd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", `C:\usbthief\config.yaml`, "Path to the configuration file")
	rootCmd.Flags().String("record-store", `C:\usbthief\devices.db`, "Path to the device record store")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "Address the metrics/health HTTP endpoint binds to")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// configBlacklist adapts config.View's flat serial list to the small
// Blocked(serial) predicate internal/device consults per tick. The list is
// read from the view on every call, so a reloaded config takes effect on
// the next tick.
type configBlacklist struct {
	cfg config.View
}

func (b configBlacklist) Blocked(serial string) bool {
	for _, s := range b.cfg.BlacklistBySerial() {
		if s == serial {
			return true
		}
	}
	return false
}

// queueDepthRef breaks the construction cycle between the load evaluator
// and the scheduler: the evaluator needs a QueueDepthSource before the
// scheduler it reads from exists yet, so it reads through this indirection
// and sched is assigned once the scheduler is built.
type queueDepthRef struct {
	sched *scheduler.Scheduler
}

func (r *queueDepthRef) QueueDepth() int {
	if r.sched == nil {
		return 0
	}
	return r.sched.QueueDepth()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("usbthiefd")

	configPath, _ := cmd.Flags().GetString("config")
	recordStorePath, _ := cmd.Flags().GetString("record-store")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	bus := eventbus.New()

	cfg, err := config.Load(configPath, bus)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %v", err)
	}
	if err := cfg.Watch(); err != nil {
		logger.Warn().Err(err).Msg("configuration hot-reload disabled: failed to start watcher")
	}
	defer cfg.Close()

	records, err := recordstore.Open(recordStorePath)
	if err != nil {
		return fmt.Errorf("failed to open device record store: %v", err)
	}
	defer records.Close()

	storageCtl := storage.New(storage.Config{
		WorkDir:       cfg.WorkPath(),
		ReservedBytes: cfg.StorageReservedBytes(),
	}, bus)

	volumeIDs := platform.NewVolumeIdentifier()
	roots := platform.NewRootSource()
	hidden := platform.NewHiddenChecker()
	attrs := platform.NewAttributeIO()

	index := dedup.New()

	limiter := ratelimit.New(ratelimit.Config{
		RateBytesPerSec: float64(cfg.CopyRateLimit()),
		BurstSize:       float64(cfg.CopyRateBurstSize()),
		BaseRate:        float64(cfg.CopyRateLimitBase()),
		Hysteresis:      30 * time.Second,
	})
	globalProbe := speed.NewProbe()
	speed.Global.Register(globalProbe)
	limiter.SetSpeedRecorder(globalProbe)

	runner := copytask.New(storageCtl, index, limiter, attrs, bus, speed.Global, copytask.Config{
		WorkDir:    cfg.WorkPath(),
		BufferSize: cfg.BufferSize(),
	})

	pool := copyexec.New(copyexec.Config{
		CoreWorkers:   cfg.CorePoolSize(),
		MaxWorkers:    cfg.MaxPoolSize(),
		KeepAlive:     time.Duration(cfg.KeepAliveSeconds()) * time.Second,
		QueueCapacity: cfg.TaskQueueCapacity(),
	})
	defer pool.Shutdown()

	queueRef := &queueDepthRef{}
	loadEval := load.New(queueRef, speed.Global, pool, load.Config{
		HighThreshold: int(cfg.LoadHighThreshold() * 100),
		LowThreshold:  int(cfg.LoadLowThreshold() * 100),
	})

	sched := scheduler.New(pool, limiter, loadEval, runner, scheduler.Config{
		TickInterval:        time.Duration(cfg.SchedulerTickIntervalMs()) * time.Millisecond,
		MediumBatchSize:     cfg.SchedulerMediumBatch(),
		LowBatchSize:        cfg.SchedulerLowBatch(),
		AccumulationMaxSize: cfg.SchedulerAccumulationMaxQueue(),
	})
	queueRef.sched = sched

	scannerFactory := scanner.NewFactory(sched, bus, scanner.Config{
		WatchEnabled:       cfg.WatchEnabled(),
		WatchThreshold:     cfg.WatchThreshold(),
		WatchResetInterval: time.Duration(cfg.WatchResetIntervalSeconds()) * time.Second,
	})

	deviceMgr := device.New(roots, volumeIDs, records, storageCtl, scannerFactory, bus,
		configBlacklist{cfg: cfg}, device.Config{
			WorkVolumeRoot: filepath.VolumeName(cfg.WorkPath()) + string(filepath.Separator),
		})
	if err := deviceMgr.Seed(); err != nil {
		logger.Warn().Err(err).Msg("failed to load persisted device records")
	}

	recyclerSvc := recycler.New(storageCtl, hidden, bus, recycler.Config{
		WorkDir:           cfg.WorkPath(),
		Strategy:          recycler.Strategy(cfg.RecyclerStrategy()),
		ProtectedAgeHours: cfg.RecyclerProtectedAgeHours(),
	})

	mgr := svc.NewManager()
	mgr.Register(deviceMgr)
	mgr.Register(sched)
	mgr.Register(recyclerSvc)

	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	mgr.Start()
	logger.Info().Msg("usbthiefd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	mgr.Shutdown()
	logger.Info().Msg("shutdown complete")
	return nil
}
