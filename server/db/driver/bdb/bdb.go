// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package bdb is an embedded db.Archivist backed by badger.
package bdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/dex"
	"github.com/morphaNFT/marker-maker/dex/encode"
	"github.com/morphaNFT/marker-maker/server/db"
)

const (
	// DBVersion is the current database schema version.
	DBVersion = 1

	gcInterval = 5 * time.Minute
)

// Driver implements db.Driver.
type Driver struct{}

// Open creates the DB backend, returning a db.Archivist. cfg must be a
// *Config.
func (d *Driver) Open(ctx context.Context, cfg any) (db.Archivist, error) {
	switch c := cfg.(type) {
	case *Config:
		return NewArchiver(ctx, c)
	case Config:
		return NewArchiver(ctx, &c)
	default:
		return nil, fmt.Errorf("invalid config type %T", cfg)
	}
}

// UseLogger sets the package-wide logger for the registered DB Driver.
func (*Driver) UseLogger(logger dex.Logger) {
	UseLogger(logger)
}

func init() {
	db.Register("bdb", &Driver{})
}

// Config is the badger archivist configuration.
type Config struct {
	// Path is the database directory. It is ignored if InMemory is set.
	Path     string
	InMemory bool
}

// Archiver is a badger-backed db.Archivist.
type Archiver struct {
	db       *badger.DB
	closed   atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	updateWG sync.WaitGroup
	closeOne sync.Once
}

var _ db.Archivist = (*Archiver)(nil)

// NewArchiver opens the database and starts value log garbage collection,
// which runs until ctx is canceled or the Archiver is closed.
func NewArchiver(ctx context.Context, cfg *Config) (*Archiver, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(&badgerLoggerWrapper{log})
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger db: %w", err)
	}
	a := &Archiver{db: bdb}
	if err := a.checkVersion(); err != nil {
		bdb.Close()
		return nil, err
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if cfg.InMemory {
			<-ctx.Done()
			return
		}
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				err := bdb.RunValueLogGC(0.5)
				if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
					log.Errorf("garbage collection error: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return a, nil
}

func (a *Archiver) checkVersion() error {
	var version uint64
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(versionKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(b []byte) error {
			if len(b) != 8 {
				return corrupt("version length %d", len(b))
			}
			version = encode.IntCoder.Uint64(b)
			return nil
		})
	})
	if err != nil {
		return err
	}
	switch {
	case version == DBVersion:
		return nil
	case version > DBVersion:
		return fmt.Errorf("unknown database version %d, latest is %d", version, DBVersion)
	}
	log.Infof("Initializing database at version %d", DBVersion)
	return a.update(func(txn *badger.Txn) error {
		return txn.Set(versionKey, encode.Uint64Bytes(DBVersion))
	})
}

// Close stops garbage collection, waits for pending updates and closes the
// database.
func (a *Archiver) Close() (err error) {
	a.closeOne.Do(func() {
		a.closed.Store(true)
		a.cancel()
		a.wg.Wait()
		a.updateWG.Wait()
		err = a.db.Close()
	})
	return err
}

// update retries on badger.ErrConflict, which badger can return when a read
// and write happen concurrently.
func (a *Archiver) update(f func(txn *badger.Txn) error) (err error) {
	a.updateWG.Add(1)
	defer a.updateWG.Done()

	const maxRetries = 10
	sleepTime := 5 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		if err = a.db.Update(f); err == nil || !errors.Is(err, badger.ErrConflict) {
			return err
		}
		sleepTime *= 2
		time.Sleep(sleepTime)
	}

	return err
}

// iteratePrefix calls f with a copy of the key suffix and value of every
// entry under prefix.
func iteratePrefix(txn *badger.Txn, prefix []byte, keysOnly bool, f func(k, v []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = !keysOnly
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)[len(prefix):]
		var v []byte
		if !keysOnly {
			var err error
			if v, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		if err := f(k, v); err != nil {
			return err
		}
	}
	return nil
}

// LoadState loads the complete committed state.
func (a *Archiver) LoadState() (*db.State, error) {
	if a.closed.Load() {
		return nil, db.ArchiveError{Code: db.ErrClosed}
	}
	st := new(db.State)
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(rolesKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			b, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if st.Roles, err = decodeRoles(b); err != nil {
				return err
			}
		}

		item, err = txn.Get(lastSeqKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err = item.Value(func(b []byte) error {
				if len(b) != 8 {
					return corrupt("last sequence length %d", len(b))
				}
				st.LastSeq = encode.IntCoder.Uint64(b)
				return nil
			}); err != nil {
				return err
			}
		}

		err = iteratePrefix(txn, balancePrefix, false, func(k, v []byte) error {
			if len(k) != 2*common.AddressLength {
				return corrupt("balance key length %d", len(k))
			}
			st.Balances = append(st.Balances, &db.Balance{
				Account: common.BytesToAddress(k[:common.AddressLength]),
				Token:   common.BytesToAddress(k[common.AddressLength:]),
				Amount:  decodeAmount(v),
			})
			return nil
		})
		if err != nil {
			return err
		}

		err = iteratePrefix(txn, bindingPrefix, false, func(k, v []byte) error {
			acct, err := addressFromPush(k)
			if err != nil {
				return corrupt("binding key: %v", err)
			}
			bind, err := decodeBinding(acct, v)
			if err != nil {
				return err
			}
			st.Bindings = append(st.Bindings, bind)
			return nil
		})
		if err != nil {
			return err
		}

		err = iteratePrefix(txn, approvedPrefix, true, func(k, _ []byte) error {
			token, err := addressFromPush(k)
			if err != nil {
				return corrupt("approved key: %v", err)
			}
			st.Approved = append(st.Approved, token)
			return nil
		})
		if err != nil {
			return err
		}

		return iteratePrefix(txn, allowedPrefix, true, func(k, _ []byte) error {
			token, err := addressFromPush(k)
			if err != nil {
				return corrupt("allowed key: %v", err)
			}
			st.Allowed = append(st.Allowed, token)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Apply persists the ChangeSet in a single badger transaction.
func (a *Archiver) Apply(cs *db.ChangeSet) error {
	if a.closed.Load() {
		return db.ArchiveError{Code: db.ErrClosed}
	}
	if err := db.ValidateChangeSet(cs); err != nil {
		return err
	}
	if cs.Empty() {
		return nil
	}
	return a.update(func(txn *badger.Txn) error {
		if cs.Roles != nil {
			if err := txn.Set(rolesKey, encodeRoles(cs.Roles)); err != nil {
				return err
			}
		}
		for _, b := range cs.Balances {
			k := balanceKey(b.Account, b.Token)
			var err error
			if b.Amount.Sign() == 0 {
				err = txn.Delete(k)
			} else {
				err = txn.Set(k, b.Amount.Bytes())
			}
			if err != nil {
				return err
			}
		}
		for _, acct := range cs.DeletedBindings {
			if err := txn.Delete(prefixedKey(bindingPrefix, acct[:])); err != nil {
				return err
			}
		}
		for _, b := range cs.Bindings {
			if err := txn.Set(prefixedKey(bindingPrefix, b.Account[:]), encodeBinding(b)); err != nil {
				return err
			}
		}
		for _, token := range cs.Approved {
			if err := txn.Set(prefixedKey(approvedPrefix, token[:]), nil); err != nil {
				return err
			}
		}
		for token, allowed := range cs.Allowed {
			k := prefixedKey(allowedPrefix, token[:])
			var err error
			if allowed {
				err = txn.Set(k, nil)
			} else {
				err = txn.Delete(k)
			}
			if err != nil {
				return err
			}
		}
		var lastSeq uint64
		for _, r := range cs.Records {
			if err := txn.Set(recordKey(r.Seq), encodeRecord(r)); err != nil {
				return err
			}
			if r.Seq > lastSeq {
				lastSeq = r.Seq
			}
		}
		if lastSeq > 0 {
			return txn.Set(lastSeqKey, encode.Uint64Bytes(lastSeq))
		}
		return nil
	})
}

// Records returns records matching the filter in ascending sequence order.
func (a *Archiver) Records(filter *db.RecordFilter) ([]*db.Record, error) {
	if a.closed.Load() {
		return nil, db.ArchiveError{Code: db.ErrClosed}
	}
	var after uint64
	var limit int
	if filter != nil {
		after, limit = filter.After, filter.Limit
	}
	var recs []*db.Record
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(recordKey(after + 1)); it.ValidForPrefix(recordPrefix); it.Next() {
			item := it.Item()
			k := item.Key()[len(recordPrefix):]
			if len(k) != 8 {
				return corrupt("record key length %d", len(k))
			}
			seq := encode.IntCoder.Uint64(k)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			r, err := decodeRecord(seq, v)
			if err != nil {
				return err
			}
			if !filter.Match(r) {
				continue
			}
			recs = append(recs, r)
			if limit > 0 && len(recs) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}
