package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang/glog"
)

type BadgerSettings struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Domain     string
}

func DefaultBadgerSettings(path string) *BadgerSettings {
	return &BadgerSettings{
		Path:       path,
		SyncWrites: true,
	}
}

func InMemoryBadgerSettings(domain string) *BadgerSettings {
	return &BadgerSettings{
		InMemory: true,
		Domain:   domain,
	}
}

// badger logs through glog. Badger info is noisy, so it goes to V(1).
type badgerLogger struct{}

func (self *badgerLogger) Errorf(format string, args ...any) {
	glog.Errorf("[badger]"+format, args...)
}

func (self *badgerLogger) Warningf(format string, args ...any) {
	glog.Warningf("[badger]"+format, args...)
}

func (self *badgerLogger) Infof(format string, args ...any) {
	glog.V(1).Infof("[badger]"+format, args...)
}

func (self *badgerLogger) Debugf(format string, args ...any) {
	glog.V(2).Infof("[badger]"+format, args...)
}

type BadgerStorage struct {
	db     *badger.DB
	domain string
}

func NewBadgerStorage(settings *BadgerSettings) (*BadgerStorage, error) {
	var opts badger.Options
	if settings.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if settings.Path == "" {
			return nil, errors.New("badger path is required")
		}
		opts = badger.DefaultOptions(settings.Path)
	}
	opts = opts.
		WithSyncWrites(settings.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStorage{
		db:     db,
		domain: settings.Domain,
	}, nil
}

func (self *BadgerStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var value []byte
	err := self.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(scopedKey(self.domain, key)))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("badger get %s: %w", key, err)
	}
	return string(value), true, nil
}

func (self *BadgerStorage) Set(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := self.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(scopedKey(self.domain, key)), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

func (self *BadgerStorage) Close() error {
	return self.db.Close()
}
