package application

import (
	"context"
	"fmt"
	"time"

	"github.com/neuraiproject/wcbridge/internal/core/application/ledger"
	"github.com/neuraiproject/wcbridge/internal/core/application/pipeline"
	"github.com/neuraiproject/wcbridge/internal/core/application/registry"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	dbbadger "github.com/neuraiproject/wcbridge/internal/infrastructure/storage/db/badger"
	"github.com/neuraiproject/wcbridge/internal/infrastructure/storage/db/inmemory"
	"github.com/neuraiproject/wcbridge/pkg/stats"
	log "github.com/sirupsen/logrus"
)

const (
	DBBadger   = "badger"
	DBInMemory = "inmemory"
)

var (
	SupportedDBType = map[string]struct{}{
		DBBadger:   {},
		DBInMemory: {},
	}
)

// Config lazily composes the services of the bridge from the given
// collaborators and parameters.
type Config struct {
	Network  *domain.Network
	DBType   string
	DBConfig interface{}

	Chain     ports.ChainRPC
	Custody   ports.Custody
	Transport ports.Transport
	Metrics   *stats.Metrics

	AccountPaths        []string
	UtxoMaxAge          time.Duration
	CoinSelection       domain.CoinSelectionPolicy
	RequestTimeout      time.Duration
	ResumeMaxRetries    int
	ResumeBackoff       time.Duration
	BroadcastMaxRetries int
	BroadcastBackoff    time.Duration

	repo        ports.RepoManager
	registry    *registry.Service
	ledger      *ledger.Service
	pipeline    *pipeline.Service
	broadcaster *Broadcaster
	negotiator  *SessionNegotiator
	dispatcher  *RequestDispatcher
	supervisor  *BridgeSupervisor
}

func (c *Config) Validate() error {
	if c.Network == nil {
		return fmt.Errorf("missing network")
	}
	if _, ok := SupportedDBType[c.DBType]; !ok {
		return fmt.Errorf("unsupported db type %q", c.DBType)
	}
	if len(c.AccountPaths) <= 0 {
		return fmt.Errorf("missing account derivation paths")
	}
	if _, err := c.supervisorService(); err != nil {
		return err
	}
	return nil
}

// DeriveAccounts derives the configured account paths. It must be called
// before starting the supervisor.
func (c *Config) DeriveAccounts(ctx context.Context) error {
	accounts, err := c.registryService()
	if err != nil {
		return err
	}
	for _, path := range c.AccountPaths {
		account, _, err := accounts.Derive(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to derive account at path %s: %w", path, err)
		}
		log.Infof("serving account %s (%s)", account.Address(), account.Path)
	}
	return nil
}

func (c *Config) RepoManager() ports.RepoManager {
	svc, _ := c.repoManager()
	return svc
}

func (c *Config) LedgerService() *ledger.Service {
	svc, _ := c.ledgerService()
	return svc
}

func (c *Config) Dispatcher() *RequestDispatcher {
	svc, _ := c.dispatcherService()
	return svc
}

func (c *Config) Supervisor() *BridgeSupervisor {
	svc, _ := c.supervisorService()
	return svc
}

func (c *Config) OperatorService() OperatorService {
	svc, _ := c.supervisorService()
	return svc
}

func (c *Config) repoManager() (ports.RepoManager, error) {
	if c.repo == nil {
		switch c.DBType {
		case DBBadger:
			datadir, _ := c.DBConfig.(string)
			repoManager, err := dbbadger.NewRepoManager(datadir, log.New())
			if err != nil {
				return nil, err
			}
			c.repo = repoManager
		case DBInMemory:
			c.repo = inmemory.NewRepoManager()
		default:
			return nil, fmt.Errorf("unsupported db type %q", c.DBType)
		}
	}
	return c.repo, nil
}

func (c *Config) registryService() (*registry.Service, error) {
	if c.registry == nil {
		svc, err := registry.NewService(c.Network, c.Custody)
		if err != nil {
			return nil, err
		}
		c.registry = svc
	}
	return c.registry, nil
}

func (c *Config) ledgerService() (*ledger.Service, error) {
	if c.ledger == nil {
		repo, err := c.repoManager()
		if err != nil {
			return nil, err
		}
		svc, err := ledger.NewService(
			c.Chain, repo.UtxoRepository(), c.Network, c.CoinSelection,
			c.UtxoMaxAge,
		)
		if err != nil {
			return nil, err
		}
		c.ledger = svc
	}
	return c.ledger, nil
}

func (c *Config) pipelineService() (*pipeline.Service, error) {
	if c.pipeline == nil {
		ledgerSvc, err := c.ledgerService()
		if err != nil {
			return nil, err
		}
		accounts, err := c.registryService()
		if err != nil {
			return nil, err
		}
		svc, err := pipeline.NewService(
			ledgerSvc, accounts, c.Custody, c.Chain, c.Network,
		)
		if err != nil {
			return nil, err
		}
		c.pipeline = svc
	}
	return c.pipeline, nil
}

func (c *Config) broadcasterService() (*Broadcaster, error) {
	if c.broadcaster == nil {
		svc, err := NewBroadcaster(
			c.Chain, c.BroadcastMaxRetries, c.BroadcastBackoff, c.Metrics,
		)
		if err != nil {
			return nil, err
		}
		c.broadcaster = svc
	}
	return c.broadcaster, nil
}

func (c *Config) negotiatorService() (*SessionNegotiator, error) {
	if c.negotiator == nil {
		accounts, err := c.registryService()
		if err != nil {
			return nil, err
		}
		svc, err := NewSessionNegotiator(c.Network, accounts)
		if err != nil {
			return nil, err
		}
		c.negotiator = svc
	}
	return c.negotiator, nil
}

func (c *Config) dispatcherService() (*RequestDispatcher, error) {
	if c.dispatcher == nil {
		accounts, err := c.registryService()
		if err != nil {
			return nil, err
		}
		ledgerSvc, err := c.ledgerService()
		if err != nil {
			return nil, err
		}
		pipelineSvc, err := c.pipelineService()
		if err != nil {
			return nil, err
		}
		broadcaster, err := c.broadcasterService()
		if err != nil {
			return nil, err
		}
		svc, err := NewRequestDispatcher(
			c.Network, accounts, ledgerSvc, pipelineSvc, broadcaster, c.Custody,
			c.RequestTimeout, c.Metrics,
		)
		if err != nil {
			return nil, err
		}
		c.dispatcher = svc
	}
	return c.dispatcher, nil
}

func (c *Config) supervisorService() (*BridgeSupervisor, error) {
	if c.supervisor == nil {
		repo, err := c.repoManager()
		if err != nil {
			return nil, err
		}
		accounts, err := c.registryService()
		if err != nil {
			return nil, err
		}
		negotiator, err := c.negotiatorService()
		if err != nil {
			return nil, err
		}
		dispatcher, err := c.dispatcherService()
		if err != nil {
			return nil, err
		}
		svc, err := NewBridgeSupervisor(SupervisorOpts{
			Network:          c.Network,
			Negotiator:       negotiator,
			Dispatcher:       dispatcher,
			Accounts:         accounts,
			Transport:        c.Transport,
			Chain:            c.Chain,
			Sessions:         repo.SessionRepository(),
			Metrics:          c.Metrics,
			ResumeMaxRetries: c.ResumeMaxRetries,
			ResumeBackoff:    c.ResumeBackoff,
			RequestTimeout:   c.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		c.supervisor = svc
	}
	return c.supervisor, nil
}
