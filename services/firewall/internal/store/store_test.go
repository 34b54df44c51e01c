package store

import (
	"math"
	"testing"
)

func TestToBigRange(t *testing.T) {
	if v, err := toBig(0); err != nil || v != 0 {
		t.Fatalf("toBig(0) = %d, %v", v, err)
	}
	if v, err := toBig(math.MaxInt64); err != nil || v != math.MaxInt64 {
		t.Fatalf("toBig(MaxInt64) = %d, %v", v, err)
	}
	if _, err := toBig(math.MaxInt64 + 1); err == nil {
		t.Fatal("expected range error above MaxInt64")
	}
}

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Fatal("empty string must map to NULL")
	}
	p := nullable("adm_1")
	if p == nil || *p != "adm_1" {
		t.Fatalf("unexpected pointer: %v", p)
	}
}
