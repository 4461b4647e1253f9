package config

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDurationJSONRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"1m30s"` {
		t.Fatalf("marshaled = %s", b)
	}

	var back Duration
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != d {
		t.Fatalf("round trip = %v, want %v", back.Std(), d.Std())
	}
}

func TestDurationRejectsNumbers(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`90`), &d); err == nil {
		t.Fatal("numeric duration accepted")
	}
	if err := json.Unmarshal([]byte(`"banana"`), &d); err == nil {
		t.Fatal("garbage duration accepted")
	}
}

func TestCacheConfigValidate(t *testing.T) {
	if err := DefaultCacheConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := DefaultCacheConfig()
	bad.WriteInterval = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("zero write_interval accepted")
	}

	bad = DefaultCacheConfig()
	bad.TTLClean = Duration(100 * time.Millisecond)
	if err := bad.Validate(); err == nil {
		t.Fatal("sub-second ttl_clean accepted")
	}
}

func TestLoadEnvConfigDefaults(t *testing.T) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisURL != "redis://127.0.0.1/" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.WriteInterval != 5*time.Second || cfg.TTLClean != 60*time.Second || cfg.TTLDeleted != 10*time.Second {
		t.Errorf("timings = %v %v %v", cfg.WriteInterval, cfg.TTLClean, cfg.TTLDeleted)
	}
	if cfg.RedisConnectAttempts != 6 || cfg.RedisConnectBackoff != 10*time.Second {
		t.Errorf("retry = %d %v", cfg.RedisConnectAttempts, cfg.RedisConnectBackoff)
	}
}

func TestLoadEnvConfigOverridesAndErrors(t *testing.T) {
	t.Setenv("SILT_TTL_CLEAN", "2m")
	t.Setenv("SILT_PORT", "8080")
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TTLClean != 2*time.Minute || cfg.Port != 8080 {
		t.Fatalf("overrides not applied: %v %d", cfg.TTLClean, cfg.Port)
	}

	t.Setenv("SILT_PORT", "not-a-port")
	if _, err := LoadEnvConfig(); err == nil {
		t.Fatal("invalid port accepted")
	}
}

func TestWeakAdminTokenRejected(t *testing.T) {
	t.Setenv("SILT_ADMIN_TOKEN", "abc123")
	if _, err := LoadEnvConfig(); err == nil {
		t.Fatal("weak admin token accepted")
	}
}

func TestParseResources(t *testing.T) {
	raw := []byte(`
resources:
  - root: posts
    table: posts
    ttl_clean: 30s
  - root: users
`)
	rs, err := ParseResources(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("got %d resources", len(rs))
	}
	if rs[1].Table != "users" {
		t.Errorf("table default = %q", rs[1].Table)
	}

	base := DefaultCacheConfig()
	merged := rs[0].CacheConfigFor(base)
	if merged.TTLClean.Std() != 30*time.Second {
		t.Errorf("ttl_clean override = %v", merged.TTLClean.Std())
	}
	if merged.WriteInterval != base.WriteInterval {
		t.Errorf("write_interval should fall back, got %v", merged.WriteInterval.Std())
	}
}

func TestParseResourcesRejects(t *testing.T) {
	cases := map[string]string{
		"empty":     `resources: []`,
		"bad root":  "resources:\n  - root: \"Posts/1\"",
		"colon":     "resources:\n  - root: \"a:b\"",
		"duplicate": "resources:\n  - root: posts\n  - root: posts",
	}
	for name, raw := range cases {
		if _, err := ParseResources([]byte(raw)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}
