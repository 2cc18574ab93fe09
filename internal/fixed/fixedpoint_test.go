package fixed_test

import (
	"PerpClearing/internal/fixed"
	"encoding/json"
	"testing"
)

// ============================================================================
// Test: parsing and rendering
// ============================================================================

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want string // raw Dp units
	}{
		{"2000", "2000000000000000000000"},
		{"0.001", "1000000000000000"},
		{"0.000000000000000001", "1"},
		{"1840.5", "1840500000000000000000"},
	}
	for _, tc := range cases {
		got, err := fixed.ParsePrice(tc.in)
		if err != nil {
			t.Fatalf("ParsePrice(%q): %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Errorf("ParsePrice(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParsePrice_Rejects(t *testing.T) {
	for _, in := range []string{"-1", "abc", "0.0000000000000000001"} {
		if _, err := fixed.ParsePrice(in); err == nil {
			t.Errorf("ParsePrice(%q) should fail", in)
		}
	}
}

func TestParseQuote(t *testing.T) {
	q, err := fixed.ParseQuote("1000.5")
	if err != nil {
		t.Fatal(err)
	}
	if q != 1000_500000 {
		t.Errorf("got %d, want 1000500000", q)
	}
	if _, err := fixed.ParseQuote("1.0000001"); err == nil {
		t.Error("seven decimals should be rejected")
	}
	if got := fixed.Quote(5490_000000).Human(); got != "5490.000000" {
		t.Errorf("Human() = %q", got)
	}
}

func TestPriceJSON(t *testing.T) {
	p := fixed.MustParsePrice("1234.5")
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"1234500000000000000000"` {
		t.Errorf("marshal = %s", raw)
	}
	var back fixed.Price
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Eq(p) {
		t.Errorf("round trip = %s, want %s", back, p)
	}
}

func TestRateJSON_Negative(t *testing.T) {
	r := fixed.NewRate(fixed.MustParsePrice("0.005"), true)
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var back fixed.Rate
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Eq(r) || back.Sign() >= 0 {
		t.Errorf("round trip = %s, want %s", back.Human(), r.Human())
	}
	if r.Human() != "-0.005" {
		t.Errorf("Human() = %q", r.Human())
	}
}

// ============================================================================
// Test: arithmetic
// ============================================================================

func TestMulPrice(t *testing.T) {
	fee, err := fixed.MulPrice(fixed.QuoteFromInt(5000), fixed.MustParsePrice("0.001"))
	if err != nil {
		t.Fatal(err)
	}
	if fee != 5_000000 {
		t.Errorf("fee = %d, want 5000000", fee)
	}

	// Truncates toward zero.
	got, _ := fixed.MulPrice(3, fixed.MustParsePrice("0.5"))
	if got != 1 {
		t.Errorf("3 × 0.5 = %d, want 1", got)
	}

	if _, err := fixed.MulPrice(-1, fixed.Precision()); err == nil {
		t.Error("negative amount should fail")
	}
}

func TestRatioAndScale(t *testing.T) {
	r, err := fixed.Ratio(1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Eq(fixed.MustParsePrice("0.25")) {
		t.Errorf("Ratio(1,4) = %s", r.Human())
	}
	if _, err := fixed.Ratio(1, 0); err == nil {
		t.Error("zero denominator should fail")
	}

	s, err := fixed.ScalePrice(fixed.MustParsePrice("0.5"), 100, 200)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Eq(fixed.MustParsePrice("0.25")) {
		t.Errorf("ScalePrice = %s", s.Human())
	}
}

func TestPnL(t *testing.T) {
	size := fixed.QuoteFromInt(5000)
	entry := fixed.PriceFromInt(2000)

	cases := []struct {
		name   string
		exit   uint64
		isLong bool
		want   fixed.Quote
	}{
		{"long gain", 2200, true, fixed.QuoteFromInt(500)},
		{"long loss", 1800, true, fixed.QuoteFromInt(-500)},
		{"short gain", 1800, false, fixed.QuoteFromInt(500)},
		{"short loss", 2200, false, fixed.QuoteFromInt(-500)},
		{"flat", 2000, true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fixed.PnL(size, entry, fixed.PriceFromInt(tc.exit), tc.isLong)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPnL_TruncatesMagnitude(t *testing.T) {
	// 10 × 1/3 = 3.33.. in both directions
	exit, _ := fixed.PriceFromRaw("4")
	entry, _ := fixed.PriceFromRaw("3")
	long, _ := fixed.PnL(10, entry, exit, true)
	short, _ := fixed.PnL(10, entry, exit, false)
	if long != 3 || short != -3 {
		t.Errorf("long=%d short=%d, want 3/-3", long, short)
	}
}

func TestAtLeastPct(t *testing.T) {
	if !fixed.AtLeastPct(800, 1000, 80) {
		t.Error("800 is 80% of 1000")
	}
	if fixed.AtLeastPct(799, 1000, 80) {
		t.Error("799 is below 80% of 1000")
	}
	if fixed.AtLeastPct(-1, 1000, 80) {
		t.Error("negative x never qualifies")
	}
}

func TestLiquidationPrice(t *testing.T) {
	entry := fixed.PriceFromInt(2000)
	size := fixed.QuoteFromInt(10_000)
	margin := fixed.QuoteFromInt(1000)

	long, err := fixed.LiquidationPrice(entry, size, margin, 80, true)
	if err != nil {
		t.Fatal(err)
	}
	if !long.Eq(fixed.PriceFromInt(1840)) {
		t.Errorf("long = %s, want 1840", long.Human())
	}
	short, err := fixed.LiquidationPrice(entry, size, margin, 80, false)
	if err != nil {
		t.Fatal(err)
	}
	if !short.Eq(fixed.PriceFromInt(2160)) {
		t.Errorf("short = %s, want 2160", short.Human())
	}

	// 1x long: margin covers the full move
	zero, err := fixed.LiquidationPrice(entry, margin, margin, 80, true)
	if err != nil {
		t.Fatal(err)
	}
	if !zero.Eq(fixed.MustParsePrice("400")) {
		t.Errorf("1x long = %s, want 400", zero.Human())
	}
}

// ============================================================================
// Test: funding
// ============================================================================

func TestFundingRate(t *testing.T) {
	factor := fixed.MustParsePrice("0.01")

	r, err := fixed.FundingRate(fixed.QuoteFromInt(3000), fixed.QuoteFromInt(1000), factor)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Eq(fixed.NewRate(fixed.MustParsePrice("0.005"), false)) {
		t.Errorf("long-heavy rate = %s", r.Human())
	}

	r, _ = fixed.FundingRate(fixed.QuoteFromInt(1000), fixed.QuoteFromInt(3000), factor)
	if !r.Eq(fixed.NewRate(fixed.MustParsePrice("0.005"), true)) {
		t.Errorf("short-heavy rate = %s", r.Human())
	}

	r, _ = fixed.FundingRate(0, 0, factor)
	if !r.IsZero() {
		t.Errorf("empty book rate = %s", r.Human())
	}
	r, _ = fixed.FundingRate(500, 500, factor)
	if !r.IsZero() {
		t.Errorf("balanced rate = %s", r.Human())
	}
}

func TestFundingIndexDeltaAndCharge(t *testing.T) {
	rate := fixed.NewRate(fixed.MustParsePrice("0.005"), false)
	delta, err := fixed.FundingIndexDelta(rate, 7200, 3600)
	if err != nil {
		t.Fatal(err)
	}
	if !delta.Eq(fixed.NewRate(fixed.MustParsePrice("0.01"), false)) {
		t.Errorf("delta = %s, want 0.01", delta.Human())
	}

	size := fixed.QuoteFromInt(3000)
	long, _ := fixed.FundingCharge(size, fixed.Rate{}, delta, true)
	short, _ := fixed.FundingCharge(size, fixed.Rate{}, delta, false)
	if long != fixed.QuoteFromInt(30) || short != fixed.QuoteFromInt(-30) {
		t.Errorf("long=%d short=%d", long, short)
	}

	// A negative index pays longs.
	neg := delta.Neg()
	long, _ = fixed.FundingCharge(size, fixed.Rate{}, neg, true)
	if long != fixed.QuoteFromInt(-30) {
		t.Errorf("long under negative index = %d", long)
	}

	if _, err := fixed.FundingIndexDelta(rate, 10, 0); err == nil {
		t.Error("zero interval should fail")
	}
}
