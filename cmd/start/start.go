package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/caesium-cloud/fanout/api"
	batchctrl "github.com/caesium-cloud/fanout/api/rest/controller/batch"
	catalogctrl "github.com/caesium-cloud/fanout/api/rest/controller/catalog"
	"github.com/caesium-cloud/fanout/internal/access"
	"github.com/caesium-cloud/fanout/internal/batch"
	"github.com/caesium-cloud/fanout/internal/event"
	"github.com/caesium-cloud/fanout/internal/governor"
	"github.com/caesium-cloud/fanout/internal/metrics"
	"github.com/caesium-cloud/fanout/internal/remote"
	"github.com/caesium-cloud/fanout/internal/retry"
	"github.com/caesium-cloud/fanout/internal/runner"
	"github.com/caesium-cloud/fanout/internal/secret"
	"github.com/caesium-cloud/fanout/internal/target"
	"github.com/caesium-cloud/fanout/internal/tracing"
	"github.com/caesium-cloud/fanout/internal/worker"
	"github.com/caesium-cloud/fanout/pkg/db"
	"github.com/caesium-cloud/fanout/pkg/env"
	"github.com/caesium-cloud/fanout/pkg/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	usage   = "start"
	short   = "Start a fanout instance"
	long    = "This command starts a fanout instance serving the batch API and recovering orphaned executions"
	example = "fanout start"

	shutdownTimeout = 30 * time.Second
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "run", "begin"},
		Example:    example,
		RunE:       start,
	}
)

func start(cmd *cobra.Command, args []string) error {
	vars := env.Variables()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			default:
				log.Info("gracefully shutting down", "signal", s.String())
				stop()
				return
			}
		}
	}()

	nodeID := vars.NodeID
	if nodeID == "" {
		host, err := os.Hostname()
		if err != nil {
			return errors.Wrap(err, "resolve node id")
		}
		nodeID = host
	}

	log.Info("migrating database")
	if err := db.Migrate(); err != nil {
		log.Fatal("database migration failure", "error", err)
	}
	conn := db.Connection()

	metrics.Register()

	shutdownTracing, err := tracing.Setup(ctx, vars.TracingEndpoint, vars.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error("tracing shutdown failure", "error", err)
		}
	}()

	secrets, err := buildSecretResolver(vars)
	if err != nil {
		log.Fatal("secret resolver configuration failure", "error", err)
	}

	var govOpts []governor.Option
	var remoteOpts []remote.HTTPOption
	if vars.RemoteRequestsPerSecond > 0 {
		govOpts = append(govOpts, governor.WithRate(vars.RemoteRequestsPerSecond, vars.RemoteBurst))
	}
	gov := governor.New(vars.MaxConcurrentExecutions, govOpts...)
	if vars.RemoteRequestsPerSecond > 0 {
		remoteOpts = append(remoteOpts, remote.WithPacer(gov))
	}

	checker := access.New(conn)
	bus := event.New()
	store := batch.NewStore(conn)

	coord := batch.New(ctx, batch.Deps{
		Store:    store,
		Governor: gov,
		Executor: runner.New(remote.NewHTTPClient(vars.RemoteTimeout, remoteOpts...), runner.Config{
			PollInitial: vars.PollInitialInterval,
			PollMax:     vars.PollMaxInterval,
			PollTimeout: vars.PollTimeout,
		}),
		Targets: target.New(conn, checker,
			target.WithSecrets(secrets),
			target.WithDefaultEndpoint(vars.RemoteBaseURL)),
		Access: checker,
		Bus:    bus,
	}, batch.Config{
		NodeID:       nodeID,
		MaxBatchSize: vars.MaxBatchSize,
		LeaseTTL:     vars.LeaseTTL,
		Retry: retry.Policy{
			MaxAttempts: vars.MaxRetryAttempts,
			Base:        vars.RetryDelayBase,
			Unit:        vars.RetryDelayUnit,
		},
	})

	recovery := worker.NewWorker(store, worker.NewPool(vars.RecoveryWorkers), coord.Execute, worker.Config{
		NodeID:   nodeID,
		Interval: vars.RecoveryInterval,
		Grace:    vars.RecoveryGrace,
	})

	server := api.New(
		api.Config{
			Port:            vars.Port,
			PrincipalHeader: vars.PrincipalHeader,
			Governor:        gov,
		},
		batchctrl.New(coord, bus, batchctrl.WithMaxRows(vars.MaxAggregatedRows)),
		catalogctrl.New(conn),
	)

	errs := make(chan error, 2)

	go func() {
		log.Info("spinning up api", "port", vars.Port, "node_id", nodeID)
		errs <- server.Start()
	}()

	go func() {
		log.Info("launching recovery worker", "interval", vars.RecoveryInterval, "grace", vars.RecoveryGrace)
		errs <- recovery.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errs:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Error("api shutdown failure", "error", serr)
	}
	coord.Shutdown()
	log.Info("shutdown complete", "node_id", nodeID)

	return err
}

func buildSecretResolver(vars env.Environment) (secret.Resolver, error) {
	cfg := secret.Config{EnableEnv: true}
	if vars.VaultAddress != "" {
		cfg.Vault = &secret.VaultConfig{
			Address:       vars.VaultAddress,
			Token:         vars.VaultToken,
			Namespace:     vars.VaultNamespace,
			CACertPath:    vars.VaultCACert,
			TLSSkipVerify: vars.VaultTLSSkipVerify,
		}
	}
	return secret.NewConfiguredResolver(cfg)
}
