package openid

import (
	"testing"
	"time"
)

type stubDiscoveredInfo struct {
	endpoint  string
	opLocalID string
	claimedID string
}

func (s stubDiscoveredInfo) OpEndpoint() string { return s.endpoint }
func (s stubDiscoveredInfo) OpLocalID() string  { return s.opLocalID }
func (s stubDiscoveredInfo) ClaimedID() string  { return s.claimedID }

func TestTTLDiscoveryCache_PutGet(t *testing.T) {
	cache := NewTTLDiscoveryCache(time.Minute)

	if got := cache.Get("https://op.example/alice"); got != nil {
		t.Errorf("Get on empty cache = %v, want nil", got)
	}

	info := stubDiscoveredInfo{
		endpoint:  "https://op.example/server",
		opLocalID: "https://op.example/alice",
		claimedID: "https://op.example/alice",
	}
	cache.Put("https://op.example/alice", info)

	got := cache.Get("https://op.example/alice")
	if got == nil {
		t.Fatal("Get returned nil after Put")
	}
	if got.OpEndpoint() != info.endpoint {
		t.Errorf("OpEndpoint = %q, want %q", got.OpEndpoint(), info.endpoint)
	}
	if cache.Len() != 1 {
		t.Errorf("Len = %d, want 1", cache.Len())
	}
}

func TestTTLDiscoveryCache_Expires(t *testing.T) {
	cache := NewTTLDiscoveryCache(20 * time.Millisecond)
	cache.Put("https://op.example/bob", stubDiscoveredInfo{endpoint: "https://op.example/server"})

	time.Sleep(50 * time.Millisecond)

	if got := cache.Get("https://op.example/bob"); got != nil {
		t.Errorf("Get after expiry = %v, want nil", got)
	}
}
