package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/neuraiproject/wcbridge/internal/config"
	"github.com/neuraiproject/wcbridge/internal/core/application"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	"github.com/neuraiproject/wcbridge/internal/infrastructure/chain/neuraid"
	localcustody "github.com/neuraiproject/wcbridge/internal/infrastructure/custody/local"
	remotecustody "github.com/neuraiproject/wcbridge/internal/infrastructure/custody/remote"
	relaytransport "github.com/neuraiproject/wcbridge/internal/infrastructure/transport/relay"
	httpinterface "github.com/neuraiproject/wcbridge/internal/interfaces/http"
	"github.com/neuraiproject/wcbridge/pkg/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

const startupTimeout = 30 * time.Second

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	network, _ := config.GetNetwork()
	datadir := config.GetDatadir()
	profilerEnabled := config.GetBool(config.EnableProfilerKey)
	statsInterval := time.Duration(config.GetInt(config.StatsIntervalKey)) * time.Second
	operatorAddress := fmt.Sprintf(":%d", config.GetInt(config.OperatorListeningPortKey))
	coinSelection, _ := domain.ParseCoinSelectionPolicy(
		config.GetString(config.CoinSelectionKey),
	)

	chainSvc, err := neuraid.NewService(
		config.GetString(config.NodeRPCEndpointKey),
		config.GetInt(config.NodeRPCRateLimitKey),
	)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize chain node client")
	}

	custodySvc, err := newCustody()
	if err != nil {
		log.WithError(err).Fatal("failed to initialize custody")
	}

	transportSvc, err := relaytransport.NewService(
		config.GetString(config.RelayEndpointKey),
		config.GetDuration(config.RelayReconnectBackoffKey),
	)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize relay transport")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := stats.NewMetrics(registry)
	if err != nil {
		log.WithError(err).Fatal("failed to register metrics")
	}

	appConfig := &application.Config{
		Network:             network,
		DBType:              config.GetString(config.DBTypeKey),
		DBConfig:            filepath.Join(datadir, config.DbLocation),
		Chain:               chainSvc,
		Custody:             custodySvc,
		Transport:           transportSvc,
		Metrics:             metrics,
		AccountPaths:        config.GetAccountPaths(),
		UtxoMaxAge:          config.GetDuration(config.UtxoMaxAgeKey),
		CoinSelection:       coinSelection,
		RequestTimeout:      config.GetDuration(config.RequestTimeoutKey),
		ResumeMaxRetries:    config.GetInt(config.ResumeMaxRetriesKey),
		ResumeBackoff:       config.GetDuration(config.ResumeBackoffKey),
		BroadcastMaxRetries: config.GetInt(config.BroadcastMaxRetriesKey),
		BroadcastBackoff:    config.GetDuration(config.BroadcastBackoffKey),
	}
	if err := appConfig.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	defer appConfig.RepoManager().Close()

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	if err := appConfig.DeriveAccounts(ctx); err != nil {
		cancel()
		log.WithError(err).Fatal("failed to derive accounts")
	}

	supervisor := appConfig.Supervisor()
	if err := supervisor.Start(ctx); err != nil {
		cancel()
		log.WithError(err).Fatal("failed to start bridge")
	}
	cancel()
	defer supervisor.Stop()

	operatorSvc, err := httpinterface.NewService(httpinterface.ServiceOpts{
		Address:     operatorAddress,
		OperatorSvc: appConfig.OperatorService(),
		Gatherer:    registry,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to initialize operator interface")
	}
	if err := operatorSvc.Start(); err != nil {
		log.WithError(err).Fatal("failed to start operator interface")
	}
	defer operatorSvc.Stop()

	if profilerEnabled {
		statsCtx, stopStats := context.WithCancel(context.Background())
		defer stopStats()
		stats.EnableMemoryStatistics(
			statsCtx, statsInterval, registry,
			filepath.Join(datadir, config.ProfilerLocation),
		)
	}

	log.Infof("bridge is serving chain %s", network.ChainId)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down bridge")
}

func newCustody() (ports.Custody, error) {
	if endpoint := config.GetString(config.CustodyEndpointKey); endpoint != "" {
		return remotecustody.NewService(
			endpoint,
			config.GetString(config.CustodySecretKey),
			config.GetDuration(config.CustodyTimeoutKey),
		)
	}

	log.Warn("using in-process key chain, do not use in production")
	mnemonicFile := config.GetString(config.CustodyMnemonicFileKey)
	buf, err := os.ReadFile(mnemonicFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read mnemonic file: %w", err)
	}
	return localcustody.NewService(
		strings.Fields(string(buf)),
		config.GetString(config.CustodyPassphraseKey),
	)
}
