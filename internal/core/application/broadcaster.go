package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	"github.com/neuraiproject/wcbridge/pkg/stats"
	log "github.com/sirupsen/logrus"
)

const (
	broadcastOutcomeOk       = "ok"
	broadcastOutcomeRejected = "rejected"
	broadcastOutcomeFailed   = "failed"
)

// Broadcaster publishes raw transactions through the chain node. Transient
// failures are retried up to maxRetries times, with a linear backoff.
// Transactions rejected by the network rules are never retried.
type Broadcaster struct {
	chain      ports.ChainRPC
	maxRetries int
	backoff    time.Duration
	metrics    *stats.Metrics
}

func NewBroadcaster(
	chain ports.ChainRPC, maxRetries int, backoff time.Duration,
	metrics *stats.Metrics,
) (*Broadcaster, error) {
	if chain == nil {
		return nil, fmt.Errorf("missing chain rpc")
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("broadcast max retries must not be negative")
	}
	if backoff < 0 {
		return nil, fmt.Errorf("broadcast backoff must not be negative")
	}
	return &Broadcaster{chain, maxRetries, backoff, metrics}, nil
}

// Broadcast publishes the given transaction and returns its txid.
func (b *Broadcaster) Broadcast(ctx context.Context, txHex string) (string, error) {
	tx, err := decodeRawTransaction(txHex)
	if err != nil {
		return "", err
	}
	expectedTxid := tx.TxHash().String()

	for attempt := 0; ; attempt++ {
		txid, err := b.chain.BroadcastRawTransaction(ctx, txHex)
		if err == nil {
			b.metrics.ObserveBroadcast(broadcastOutcomeOk)
			if txid != expectedTxid {
				log.Warnf(
					"node returned txid %s for transaction %s", txid, expectedTxid,
				)
			}
			log.Infof("broadcasted transaction %s", expectedTxid)
			return expectedTxid, nil
		}

		if !domain.IsRetryable(err) {
			b.metrics.ObserveBroadcast(broadcastOutcomeRejected)
			return "", broadcastError(err)
		}
		b.metrics.ObserveBroadcast(broadcastOutcomeFailed)
		if attempt >= b.maxRetries {
			return "", broadcastError(err)
		}

		log.WithError(err).Warnf(
			"broadcast of transaction %s failed, retrying (%d/%d)",
			expectedTxid, attempt+1, b.maxRetries,
		)

		select {
		case <-ctx.Done():
			return "", contextError(ctx.Err())
		case <-time.After(b.backoff * time.Duration(attempt+1)):
		}
	}
}

func decodeRawTransaction(txHex string) (*wire.MsgTx, error) {
	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, domain.WrapError(
			domain.ErrInvalidParams, err, "transaction is not hex encoded",
		)
	}
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(buf)); err != nil {
		return nil, domain.WrapError(
			domain.ErrInvalidParams, err, "malformed transaction",
		)
	}
	if len(tx.TxIn) <= 0 || len(tx.TxOut) <= 0 {
		return nil, domain.NewError(
			domain.ErrInvalidParams, "transaction has no inputs or outputs",
		)
	}
	return tx, nil
}

func broadcastError(err error) error {
	if bridgeErr, ok := err.(*domain.BridgeError); ok && bridgeErr.Step == "" {
		e := *bridgeErr
		e.Step = domain.StepBroadcast
		return &e
	}
	return err
}
