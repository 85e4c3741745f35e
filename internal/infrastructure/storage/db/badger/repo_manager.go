package dbbadger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	"github.com/neuraiproject/wcbridge/internal/core/ports"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const (
	sessionsDir = "sessions"
	utxosDir    = "utxos"
)

type repoManager struct {
	sessionStore *badgerhold.Store
	utxoStore    *badgerhold.Store

	sessionRepository domain.SessionRepository
	utxoRepository    domain.UtxoRepository
}

// NewRepoManager opens (or creates if not exists) the badger stores on disk.
// If baseDbDir is empty, stores are kept in memory.
func NewRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	var sessionDir, utxoDir string
	if len(baseDbDir) > 0 {
		sessionDir = filepath.Join(baseDbDir, sessionsDir)
		utxoDir = filepath.Join(baseDbDir, utxosDir)
	}

	sessionStore, err := createDb(sessionDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening sessions db: %w", err)
	}

	utxoStore, err := createDb(utxoDir, logger)
	if err != nil {
		sessionStore.Close()
		return nil, fmt.Errorf("opening utxos db: %w", err)
	}

	return &repoManager{
		sessionStore:      sessionStore,
		utxoStore:         utxoStore,
		sessionRepository: NewSessionRepositoryImpl(sessionStore),
		utxoRepository:    NewUtxoRepositoryImpl(utxoStore),
	}, nil
}

func (m *repoManager) SessionRepository() domain.SessionRepository {
	return m.sessionRepository
}

func (m *repoManager) UtxoRepository() domain.UtxoRepository {
	return m.utxoRepository
}

func (m *repoManager) Close() {
	if err := m.sessionStore.Close(); err != nil {
		log.WithError(err).Warn("error on closing sessions db")
	}
	if err := m.utxoStore.Close(); err != nil {
		log.WithError(err).Warn("error on closing utxos db")
	}
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer

	if err := json.NewEncoder(&buff).Encode(value); err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	return json.NewDecoder(bytes.NewReader(data)).Decode(value)
}

func createDb(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	return badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}
