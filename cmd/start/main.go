package start

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alpacahq/peersync/internal/di"
	"github.com/alpacahq/peersync/metrics"
	"github.com/alpacahq/peersync/utils"
	"github.com/alpacahq/peersync/utils/log"
)

const (
	usage                 = "start"
	short                 = "Start a peersync instance"
	long                  = "This command starts a peersync instance replicating its database with its peers"
	example               = "peersync start --config <path>"
	defaultConfigFilePath = "./peersync.yml"
	configDesc            = "set the path for the peersync YAML configuration file"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"boot", "up"},
		Example:    example,
		RunE:       executeStart,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	globalCtx, globalCancel := context.WithCancel(context.Background())
	defer globalCancel()

	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file error: %w", err)
	}

	// Don't output command usage if args(=only the filepath to peersync.yml at the moment) are correct
	cmd.SilenceUsage = true

	log.Info("using %v for configuration", configFilePath)

	config, err := utils.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file error: %w", err)
	}
	log.SetLevel(config.LogLevel)

	c := di.NewContainer(config)
	log.Info("initializing peersync instance %s...", c.GetInstanceID())

	start := time.Now()
	if err = c.GetStore().Ping(globalCtx); err != nil {
		return fmt.Errorf("failed to reach the database: %w", err)
	}
	if err = c.GetStore().Migrate(globalCtx, config.Replication.Channel); err != nil {
		return fmt.Errorf("failed to migrate the database: %w", err)
	}

	// Locally originated changes go out to every peer.
	unsubscribe := c.GetBus().Subscribe("broadcaster", c.GetBroadcaster().Handle)
	defer unsubscribe()

	startupTime := time.Since(start)
	metrics.StartupTime.Set(startupTime.Seconds())
	log.Info("startup time: %s", startupTime)

	srv := &http.Server{
		Addr:              config.ListenURL,
		Handler:           c.GetHTTPServer().Handler(c.GetPeerServer()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(globalCtx)
	g.Go(func() error {
		return c.GetListener().Run(ctx)
	})
	g.Go(func() error {
		c.GetPeerSet().Run(ctx, config.Discovery.RefreshInterval)
		return nil
	})
	g.Go(func() error {
		metrics.StartUnsyncedMonitor(ctx, metrics.UnsyncedRecords, c.GetStore(), config.MonitorInterval)
		return nil
	})
	g.Go(func() error {
		log.Info("launching http listener on %s...", config.ListenURL)
		if err2 := srv.ListenAndServe(); err2 != nil && err2 != http.ErrServerClosed {
			return fmt.Errorf("failed to start server - error: %w", err2)
		}
		return nil
	})

	// Spawn a goroutine and listen for a signal.
	const defaultSignalChanLen = 10
	signalChan := make(chan os.Signal, defaultSignalChanLen)
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)
	shutdownDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				shutdown(c, srv, config.StopGracePeriod)
				close(shutdownDone)
				return
			case s := <-signalChan:
				switch s {
				case syscall.SIGUSR1:
					log.Info("dumping stack traces due to SIGUSR1 request")
					if err2 := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err2 != nil {
						log.Error("failed to write goroutine pprof: %v", err2)
					}
				case syscall.SIGINT, syscall.SIGTERM:
					log.Info("initiating graceful shutdown due to '%v' request", s)
					globalCancel()
				}
			}
		}
	}()

	err = stopAfter(g.Wait, shutdownDone, c.GetBus().Close, c.GetPool().Close)
	log.Info("exiting...")
	return err
}

// stopAfter waits for the services to return and for shutdown to finish, then runs closers in order.
// Inbound peers may apply changes until the peer server is closed, so the pool must outlive it.
func stopAfter(wait func() error, shutdownDone <-chan struct{}, closers ...func()) error {
	err := wait()
	<-shutdownDone
	for _, closeFn := range closers {
		closeFn()
	}
	return err
}

// shutdown stops accepting requests and closes peer connections, waiting at most gracePeriod
// for in-flight requests.
func shutdown(c *di.Container, srv *http.Server, gracePeriod time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("failed to shutdown http server: %v", err)
	}
	log.Info("shutdown http server...")
	c.GetPeerServer().Close()
	log.Info("shutdown peer server...")
	c.GetPeerSet().Close()
}
