package amount

import "testing"

func TestParseVectors(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"0.1", 100_000_000},
		{"0.05", 50_000_000},
		{"0.01", 10_000_000},
		{"1", 1_000_000_000},
		{"1.000000001", 1_000_000_001},
		{"0.000000001", 1},
		{"10", 10_000_000_000},
		{"3.5", 3_500_000_000},
		{"0", 0},
		{"0.", 0},
		{" 2 ", 2_000_000_000},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("Parse(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	bad := []string{
		"", ".", ".5", "1.0000000001", "-1", "+1", "1e9", "1,5", "1.2.3", "abc", "1.1a",
	}
	for _, in := range bad {
		if _, err := Parse(in); err == nil {
			t.Fatalf("Parse(%q): expected error", in)
		}
	}
}

func TestParseOverflow(t *testing.T) {
	if _, err := Parse("18446744073.709551616"); err == nil {
		t.Fatal("expected overflow error")
	}
	got, err := Parse("18446744073.709551615")
	if err != nil {
		t.Fatalf("Parse at max: %v", err)
	}
	if got != 18446744073709551615 {
		t.Fatalf("Parse at max = %d", got)
	}
}

func TestFormatRoundTrips(t *testing.T) {
	cases := []struct {
		base uint64
		want string
	}{
		{0, "0"},
		{1, "0.000000001"},
		{50_000_000, "0.05"},
		{1_000_000_000, "1"},
		{3_500_000_000, "3.5"},
		{10_000_000_001, "10.000000001"},
	}
	for _, c := range cases {
		got := Format(c.base)
		if got != c.want {
			t.Fatalf("Format(%d) = %q, want %q", c.base, got, c.want)
		}
		back, err := Parse(got)
		if err != nil {
			t.Fatalf("Parse(Format(%d)): %v", c.base, err)
		}
		if back != c.base {
			t.Fatalf("round trip %d -> %q -> %d", c.base, got, back)
		}
	}
}
