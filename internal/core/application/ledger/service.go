package ledger

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Service keeps an up to date view of the utxos of the accounts known to
// the bridge. Snapshots are always replaced as a whole, so that readers never
// observe a partially refreshed set.
type Service struct {
	chain   ports.ChainRPC
	repo    domain.UtxoRepository
	network *domain.Network
	policy  domain.CoinSelectionPolicy
	maxAge  time.Duration

	now func() time.Time
}

func NewService(
	chain ports.ChainRPC,
	repo domain.UtxoRepository,
	network *domain.Network,
	policy domain.CoinSelectionPolicy,
	maxAge time.Duration,
) (*Service, error) {
	if chain == nil {
		return nil, fmt.Errorf("missing chain rpc")
	}
	if repo == nil {
		return nil, fmt.Errorf("missing utxo repository")
	}
	if network == nil {
		return nil, fmt.Errorf("missing network")
	}
	if _, err := domain.ParseCoinSelectionPolicy(string(policy)); err != nil {
		return nil, err
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("utxo max age must be positive")
	}
	return &Service{chain, repo, network, policy, maxAge, time.Now}, nil
}

func (s *Service) MaxAge() time.Duration {
	return s.maxAge
}

// Refresh fetches the current utxos of the account from the chain node and
// replaces the cached snapshot. Outputs whose script can't be spent by the
// account are discarded.
func (s *Service) Refresh(
	ctx context.Context, accountId domain.AccountId,
) ([]domain.Utxo, error) {
	if !s.network.IsSupported(accountId.ChainId) {
		return nil, domain.NewError(
			domain.ErrUnsupportedChain, "%s", accountId.ChainId,
		)
	}

	chainUtxos, err := s.chain.GetUtxos(ctx, accountId.Address)
	if err != nil {
		return nil, err
	}

	utxos := make([]domain.Utxo, 0, len(chainUtxos))
	for _, u := range chainUtxos {
		utxo := domain.Utxo{
			TxID:          u.GetTxid(),
			VOut:          u.GetIndex(),
			Value:         u.GetValue(),
			Address:       u.GetAddress(),
			ScriptPubKey:  u.GetScript(),
			Confirmations: u.GetConfirmations(),
		}
		if !s.VerifyOwnership(utxo, accountId) {
			log.WithField("account", accountId.String()).Warnf(
				"skipping utxo %s not spendable by account", utxo.Key(),
			)
			continue
		}
		utxos = append(utxos, utxo)
	}

	snapshot := domain.UtxoSnapshot{
		AccountId: accountId,
		Utxos:     utxos,
		FetchedAt: s.now().Unix(),
	}
	if err := s.repo.ReplaceUtxoSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}

	log.Debugf("refreshed %d utxos for account %s", len(utxos), accountId)
	return utxos, nil
}

// RefreshStale refreshes in parallel the snapshots of the given accounts
// that are either missing or older than the configured max age.
func (s *Service) RefreshStale(
	ctx context.Context, accountIds []domain.AccountId,
) error {
	// a failed refresh does not cancel the others.
	eg := &errgroup.Group{}
	for i := range accountIds {
		accountId := accountIds[i]

		snapshot, err := s.repo.GetUtxoSnapshot(ctx, accountId)
		if err != nil {
			return err
		}
		if snapshot != nil && !snapshot.IsStale(s.maxAge, s.now()) {
			continue
		}

		eg.Go(func() error {
			_, err := s.Refresh(ctx, accountId)
			return err
		})
	}
	return eg.Wait()
}

// GetUtxos returns the cached utxos of the account, nil if it was never
// refreshed.
func (s *Service) GetUtxos(
	ctx context.Context, accountId domain.AccountId,
) ([]domain.Utxo, error) {
	snapshot, err := s.repo.GetUtxoSnapshot(ctx, accountId)
	if err != nil || snapshot == nil {
		return nil, err
	}
	return snapshot.Utxos, nil
}

// Select returns the utxos of the given accounts covering targetAmount,
// according to the configured coin selection policy. Stale snapshots are
// refreshed first.
func (s *Service) Select(
	ctx context.Context, accountIds []domain.AccountId, targetAmount uint64,
) ([]domain.Utxo, error) {
	if err := s.RefreshStale(ctx, accountIds); err != nil {
		return nil, err
	}

	utxos := make([]domain.Utxo, 0)
	for _, accountId := range accountIds {
		accountUtxos, err := s.GetUtxos(ctx, accountId)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, accountUtxos...)
	}

	selected, _, err := domain.SelectUtxos(utxos, targetAmount, s.policy)
	if err != nil {
		return nil, err
	}
	return selected, nil
}

// Lookup resolves an outpoint against the snapshots of the given accounts.
// It returns nil if none of them owns it.
func (s *Service) Lookup(
	ctx context.Context, accountIds []domain.AccountId, key domain.UtxoKey,
) (*domain.OwnedUtxo, error) {
	for _, accountId := range accountIds {
		snapshot, err := s.repo.GetUtxoSnapshot(ctx, accountId)
		if err != nil {
			return nil, err
		}
		if snapshot == nil {
			continue
		}
		if utxo, ok := snapshot.Find(key); ok {
			return &domain.OwnedUtxo{
				Utxo:  utxo,
				Owner: accountId,
				Stale: snapshot.IsStale(s.maxAge, s.now()),
			}, nil
		}
	}
	return nil, nil
}

// VerifyOwnership returns whether the utxo script locks funds to the account
// address, either as P2PKH or as native segwit v0 key hash.
func (s *Service) VerifyOwnership(
	utxo domain.Utxo, accountId domain.AccountId,
) bool {
	if !s.network.IsSupported(accountId.ChainId) {
		return false
	}
	addr, err := s.network.ValidateAddress(accountId.Address)
	if err != nil {
		return false
	}
	pkhAddr, ok := addr.(*btcutil.AddressPubKeyHash)
	if !ok {
		return false
	}

	p2pkh, err := txscript.PayToAddrScript(pkhAddr)
	if err != nil {
		return false
	}
	if bytes.Equal(p2pkh, utxo.ScriptPubKey) {
		return true
	}

	p2wpkh, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(pkhAddr.Hash160()[:]).
		Script()
	if err != nil {
		return false
	}
	return bytes.Equal(p2wpkh, utxo.ScriptPubKey)
}
