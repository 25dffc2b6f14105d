package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"

	"logbased.io/client/logd"
)

func testStoreRoundTrip(t *testing.T, s logd.Storage) {
	ctx := context.Background()

	_, found, err := s.Get(ctx, "session")
	assert.Equal(t, err, nil)
	assert.Equal(t, found, false)

	assert.Equal(t, s.Set(ctx, "session", `{"token":"a"}`), nil)
	assert.Equal(t, s.Set(ctx, "session", `{"token":"b"}`), nil)
	value, found, err := s.Get(ctx, "session")
	assert.Equal(t, err, nil)
	assert.Equal(t, found, true)
	assert.Equal(t, value, `{"token":"b"}`)

	// empty values are stored, not dropped
	assert.Equal(t, s.Set(ctx, "updated", ""), nil)
	value, found, err = s.Get(ctx, "updated")
	assert.Equal(t, err, nil)
	assert.Equal(t, found, true)
	assert.Equal(t, value, "")
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), &StoreSettings{})
	assert.Equal(t, err, nil)
	defer s.Close()
	testStoreRoundTrip(t, s)
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open(context.Background(), &StoreSettings{Kind: "tape"})
	assert.NotEqual(t, err, nil)
}

func TestBadgerInMemory(t *testing.T) {
	s, err := Open(context.Background(), &StoreSettings{
		Kind:   KindBadger,
		Domain: "example",
	})
	assert.Equal(t, err, nil)
	defer s.Close()
	testStoreRoundTrip(t, s)
}

func TestBadgerReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()

	s, err := NewBadgerStorage(DefaultBadgerSettings(path))
	assert.Equal(t, err, nil)
	assert.Equal(t, s.Set(ctx, "updated", "1700000000000"), nil)
	assert.Equal(t, s.Close(), nil)

	s, err = NewBadgerStorage(DefaultBadgerSettings(path))
	assert.Equal(t, err, nil)
	defer s.Close()
	value, found, err := s.Get(ctx, "updated")
	assert.Equal(t, err, nil)
	assert.Equal(t, found, true)
	assert.Equal(t, value, "1700000000000")
}

func TestBadgerCanceled(t *testing.T) {
	s, err := NewBadgerStorage(InMemoryBadgerSettings(""))
	assert.Equal(t, err, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = s.Get(ctx, "session")
	assert.Equal(t, err, context.Canceled)
	assert.Equal(t, s.Set(ctx, "session", "{}"), context.Canceled)
}

func TestSqlite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(ctx, &StoreSettings{
		Kind:   KindSqlite,
		Path:   path,
		Domain: "a",
	})
	assert.Equal(t, err, nil)
	defer s.Close()
	testStoreRoundTrip(t, s)

	// domains share the file but not the keys
	other, err := NewSqliteStorage(ctx, path, "b")
	assert.Equal(t, err, nil)
	defer other.Close()
	_, found, err := other.Get(ctx, "session")
	assert.Equal(t, err, nil)
	assert.Equal(t, found, false)
}

func TestSqliteMissingPath(t *testing.T) {
	_, err := NewSqliteStorage(context.Background(), " ", "")
	assert.NotEqual(t, err, nil)
}

func TestRedis(t *testing.T) {
	redisUrl := os.Getenv("LOGD_TEST_REDIS_URL")
	if redisUrl == "" {
		t.Skip("LOGD_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := NewRedisStorage(ctx, redisUrl, "test-"+logd.NewId().String())
	assert.Equal(t, err, nil)
	defer s.Close()
	testStoreRoundTrip(t, s)
}

func TestRedisBadUrl(t *testing.T) {
	_, err := NewRedisStorage(context.Background(), "tcp://nope", "")
	assert.NotEqual(t, err, nil)
}

func TestClientWithStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, &StoreSettings{
		Kind: KindSqlite,
		Path: filepath.Join(t.TempDir(), "state.db"),
	})
	assert.Equal(t, err, nil)
	defer s.Close()

	assert.Equal(t, s.Set(ctx, "session", `{"token":"t","since":{}}`), nil)

	settings := logd.DefaultClientSettings()
	settings.Domain = "example"
	client, err := logd.NewClient(ctx, settings, s, logd.NoopDelegate{})
	assert.Equal(t, err, nil)
	assert.Equal(t, client.Session().Token, "t")
	client.Close()
	<-client.Done()
}
