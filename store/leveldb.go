package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tolelom/loopcore/core"
)

// Reserved key-space prefixes (spec.md §4.1). Keys use a typed prefix so a
// single LevelDB instance can hold blocks, indices, and node identity
// without collision.
const (
	prefixBlock        = "B:" // B:<block_hash> -> encoded Block
	prefixHeight       = "H:" // H:<height> -> block_hash
	prefixTx           = "T:" // T:<tx_hash> -> block_hash
	prefixInvoke       = "I:" // I:<tx_hash> -> encoded InvokeResult
	keyPeerID          = "M:peer_id"
	keyLastHeight      = "M:last_height"
)

// ErrStoreInit is returned when the store cannot be opened after retrying
// MaxRetryCreateDB times. Fatal per spec.md §7.
var ErrStoreInit = errors.New("store: failed to initialize chain store")

// ErrPeerIDExists names invariant 5: the peer-id key, once written, is never
// overwritten. MakePeerID does not return it; when a peer id is already
// persisted, MakePeerID returns that id instead of writing a new one.
var ErrPeerIDExists = errors.New("store: peer id already persisted")

// ErrNotDefaultChannel is returned by MakePeerID when called for a channel
// other than the configured default channel (only the default channel may
// mint a new peer id).
var ErrNotDefaultChannel = errors.New("store: only the default channel may create a peer id")

// LevelDB implements DB using goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a LevelDB database at path, used directly
// by tooling that wants a bare DB without the ChainStore semantics.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, core.ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Set(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, batch: new(leveldb.Batch)}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *levelBatch) Set(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.batch.Delete(key) }
func (b *levelBatch) Reset()                { b.batch.Reset() }
func (b *levelBatch) Write() error          { return b.db.Write(b.batch, nil) }

// ChainStore is the durable key-value store described by spec.md §4.1. It
// wraps a generic DB so that non-LevelDB backends (e.g. an in-memory DB in
// tests) can satisfy the same contract.
type ChainStore struct {
	db   DB
	path string
}

// OpenChainStore opens a ChainStore at path, retrying up to maxRetry times
// with a numeric path suffix on each failure (mirrors the Python original's
// __init_level_db loop). Returns ErrStoreInit if every attempt fails.
func OpenChainStore(path string, maxRetry int) (*ChainStore, error) {
	if maxRetry <= 0 {
		maxRetry = 1
	}
	tryPath := path
	var lastErr error
	for attempt := 0; attempt < maxRetry; attempt++ {
		db, err := OpenLevelDB(tryPath)
		if err == nil {
			return &ChainStore{db: db, path: tryPath}, nil
		}
		lastErr = err
		tryPath = fmt.Sprintf("%s%d", path, attempt)
	}
	return nil, fmt.Errorf("%w: %v", ErrStoreInit, lastErr)
}

// NewChainStore wraps an already-open DB (e.g. an in-memory test double) as
// a ChainStore.
func NewChainStore(db DB, path string) *ChainStore {
	return &ChainStore{db: db, path: path}
}

// Path returns the backing store's path (used for ClearAllBlocks).
func (s *ChainStore) Path() string { return s.path }

// Close releases the underlying DB handle.
func (s *ChainStore) Close() error { return s.db.Close() }

// GetBlock returns the block stored under B:<blockHash>.
func (s *ChainStore) GetBlock(blockHash string) (*core.Block, error) {
	data, err := s.db.Get([]byte(prefixBlock + blockHash))
	if err != nil {
		return nil, err
	}
	var b core.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("store: decode block %s: %w", blockHash, err)
	}
	return &b, nil
}

// GetBlockHashByHeight returns the block hash stored under H:<height>.
func (s *ChainStore) GetBlockHashByHeight(height uint64) (string, error) {
	val, err := s.db.Get([]byte(fmt.Sprintf("%s%d", prefixHeight, height)))
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// GetLastHeight returns the persisted last-confirmed height. ok is false if
// no block has ever been inserted.
func (s *ChainStore) GetLastHeight() (height uint64, ok bool, err error) {
	val, err := s.db.Get([]byte(keyLastHeight))
	if errors.Is(err, core.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var h uint64
	if _, err := fmt.Sscanf(string(val), "%d", &h); err != nil {
		return 0, false, fmt.Errorf("store: decode last height: %w", err)
	}
	return h, true, nil
}

// FindTxByHash returns the block hash the transaction was confirmed in.
func (s *ChainStore) FindTxByHash(txHash string) (string, error) {
	val, err := s.db.Get([]byte(prefixTx + txHash))
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// GetInvokeResult returns the InvokeResult recorded for txHash.
func (s *ChainStore) GetInvokeResult(txHash string) (*core.InvokeResult, error) {
	data, err := s.db.Get([]byte(prefixInvoke + txHash))
	if err != nil {
		return nil, err
	}
	var r core.InvokeResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("store: decode invoke result %s: %w", txHash, err)
	}
	return &r, nil
}

// InsertBlock atomically writes a confirmed block: B:<hash>, H:<height>,
// one T:<tx_hash> per transaction, one I:<tx_hash> per invoke result, and
// M:last_height — all in a single batch, so either all five key families
// land or none do (spec.md §4.1).
func (s *ChainStore) InsertBlock(block *core.Block, invokeResults map[string]*core.InvokeResult) error {
	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("store: encode block: %w", err)
	}

	batch := s.db.NewBatch()
	batch.Set([]byte(prefixBlock+block.BlockHash), data)
	batch.Set([]byte(fmt.Sprintf("%s%d", prefixHeight, block.Header.Height)), []byte(block.BlockHash))
	for _, tx := range block.ConfirmedTransactionList {
		batch.Set([]byte(prefixTx+tx.TxHash), []byte(block.BlockHash))
		if res, ok := invokeResults[tx.TxHash]; ok {
			resData, err := json.Marshal(res)
			if err != nil {
				return fmt.Errorf("store: encode invoke result for %s: %w", tx.TxHash, err)
			}
			batch.Set([]byte(prefixInvoke+tx.TxHash), resData)
		}
	}
	batch.Set([]byte(keyLastHeight), []byte(fmt.Sprintf("%d", block.Header.Height)))
	return batch.Write()
}

// GetPeerID returns the persisted peer id, if any.
func (s *ChainStore) GetPeerID() (string, bool, error) {
	val, err := s.db.Get([]byte(keyPeerID))
	if errors.Is(err, core.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	id, err := uuid.FromBytes(val)
	if err != nil {
		return "", false, fmt.Errorf("store: decode peer id: %w", err)
	}
	return id.String(), true, nil
}

// MakePeerID generates and persists a new peer id the first time it is
// called for the default channel, or returns the existing one for any
// channel. When no peer id is persisted yet, a call for a non-default
// channel is rejected with ErrNotDefaultChannel — only the default channel
// mints a peer id (invariant 5, spec.md §8.4).
func (s *ChainStore) MakePeerID(channelName, defaultChannelName string) (string, error) {
	if existing, ok, err := s.GetPeerID(); err != nil {
		return "", err
	} else if ok {
		return existing, nil
	}
	if channelName != defaultChannelName {
		return "", ErrNotDefaultChannel
	}
	id := uuid.New()
	if err := s.db.Set([]byte(keyPeerID), id[:]); err != nil {
		return "", err
	}
	return id.String(), nil
}

// ClearAllBlocks removes every key under this store's path. The caller
// must Close the store (or an equivalent) before calling this, since the
// backing file handle may still be open.
func (s *ChainStore) ClearAllBlocks() error {
	if s.path == "" {
		return nil
	}
	return os.RemoveAll(s.path)
}
