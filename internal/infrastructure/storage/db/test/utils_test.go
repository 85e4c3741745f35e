package db_test

import (
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	dbbadger "github.com/neuraiproject/wcbridge/internal/infrastructure/storage/db/badger"
	"github.com/neuraiproject/wcbridge/internal/infrastructure/storage/db/inmemory"
	"github.com/stretchr/testify/require"
	"github.com/thanhpk/randstr"
)

var chainId = domain.ChainId{
	Namespace: domain.Bip122Namespace,
	Reference: domain.MainnetGenesisHash[:domain.ChainReferenceLen],
}

func createRepoManagers(t *testing.T) (ports.RepoManager, ports.RepoManager) {
	inmemoryRepoManager := inmemory.NewRepoManager()
	badgerRepoManager, err := dbbadger.NewRepoManager("", nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		inmemoryRepoManager.Close()
		badgerRepoManager.Close()
	})
	return inmemoryRepoManager, badgerRepoManager
}

func makeRandomSession() domain.Session {
	return domain.Session{
		Topic:    randstr.Hex(32),
		PeerName: "dApp " + uuid.New().String(),
		PeerURL:  "https://example.org",
		Namespace: domain.SessionNamespace{
			Chains:   []domain.ChainId{chainId},
			Methods:  []domain.Method{domain.MethodGetAddresses, domain.MethodSignPsbt},
			Events:   domain.MandatoryEvents,
			Accounts: []domain.AccountId{randomAccountId()},
		},
		Expiry:    time.Now().Add(7 * 24 * time.Hour).Unix(),
		CreatedAt: time.Now().Unix(),
	}
}

func makeRandomSnapshot(accountId domain.AccountId, num int) domain.UtxoSnapshot {
	utxos := make([]domain.Utxo, 0, num)
	for i := 0; i < num; i++ {
		utxos = append(utxos, domain.Utxo{
			TxID:          randstr.Hex(32),
			VOut:          uint32(randomIntInRange(0, 10)),
			Value:         uint64(randomIntInRange(1000, 100000000)),
			Address:       accountId.Address,
			ScriptPubKey:  randomBytes(25),
			Confirmations: uint32(randomIntInRange(0, 100)),
		})
	}
	return domain.UtxoSnapshot{
		AccountId: accountId,
		Utxos:     utxos,
		FetchedAt: time.Now().Unix(),
	}
}

func randomAccountId() domain.AccountId {
	return domain.AccountId{ChainId: chainId, Address: "N" + randstr.Hex(16)}
}

func randomBytes(len int) []byte {
	b := make([]byte, len)
	//nolint
	rand.Read(b)
	return b
}

func randomIntInRange(min, max int) int {
	n, _ := rand.Int(rand.Reader, big.NewInt(int64(max-min)))
	return int(n.Int64()) + min
}
