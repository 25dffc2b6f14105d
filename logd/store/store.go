// storage backends for client state
package store

import (
	"context"
	"fmt"

	"logbased.io/client/logd"
)

const (
	KindMemory = "memory"
	KindBadger = "badger"
	KindRedis  = "redis"
	KindSqlite = "sqlite"
)

type Store interface {
	logd.Storage
	Close() error
}

type StoreSettings struct {
	Kind string
	// badger directory or sqlite file
	Path string
	// redis://...
	RedisUrl string
	// keys are scoped to the domain, so one store can hold the state of many domains
	Domain string
}

func Open(ctx context.Context, settings *StoreSettings) (Store, error) {
	var s Store
	var err error
	switch settings.Kind {
	case "", KindMemory:
		s = &memoryStore{
			MemoryStorage: logd.NewMemoryStorage(),
		}
	case KindBadger:
		badgerSettings := InMemoryBadgerSettings(settings.Domain)
		if settings.Path != "" {
			badgerSettings = DefaultBadgerSettings(settings.Path)
			badgerSettings.Domain = settings.Domain
		}
		s, err = NewBadgerStorage(badgerSettings)
	case KindRedis:
		s, err = NewRedisStorage(ctx, settings.RedisUrl, settings.Domain)
	case KindSqlite:
		s, err = NewSqliteStorage(ctx, settings.Path, settings.Domain)
	default:
		err = fmt.Errorf("unknown store %q", settings.Kind)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

type memoryStore struct {
	*logd.MemoryStorage
}

func (self *memoryStore) Close() error {
	return nil
}

// <domain>/<key>
func scopedKey(domain string, key string) string {
	if domain == "" {
		return key
	}
	return domain + "/" + key
}
