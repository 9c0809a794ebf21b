package testutil

import (
	"testing"

	"level-rush/internal/config"
	"level-rush/internal/store/redisstore"
)

// OpenTestRedis opens the redis-backed store against the test instance.
// Tests skip when TEST_REDIS_ADDR is not set. The configured DB should be
// dedicated to tests; keys are namespaced but not cleaned up.
func OpenTestRedis(t *testing.T) *redisstore.Store {
	t.Helper()
	cfg, err := config.LoadTest()
	if err != nil {
		t.Fatalf("load test config: %v", err)
	}
	if cfg.TestRedisAddr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	st, err := redisstore.New(cfg.TestRedisAddr, cfg.TestRedisDB)
	if err != nil {
		t.Fatalf("open redis store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}
