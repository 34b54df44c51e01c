package authn

import "testing"

func TestHashTokenDeterministic(t *testing.T) {
	a := HashToken("admc_live_1")
	b := HashToken("admc_live_1")
	c := HashToken("admc_live_2")
	if a != b {
		t.Fatalf("expected deterministic hash")
	}
	if a == c {
		t.Fatalf("expected different hashes for different tokens")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(a))
	}
}

func TestParseBearerToken(t *testing.T) {
	if _, ok := parseBearerToken(""); ok {
		t.Fatal("empty header must not parse")
	}
	if _, ok := parseBearerToken("Basic abc"); ok {
		t.Fatal("non-bearer scheme must not parse")
	}
	if _, ok := parseBearerToken("Bearer "); ok {
		t.Fatal("empty token must not parse")
	}
	tok, ok := parseBearerToken("Bearer agt_live_abc")
	if !ok || tok != "agt_live_abc" {
		t.Fatalf("unexpected parse result: %q %v", tok, ok)
	}
}
