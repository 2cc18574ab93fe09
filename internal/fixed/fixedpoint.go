package fixed

import (
	"PerpClearing/internal/types"
	"encoding/json"
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	QuoteDecimals = 6  // Dq: quote token units
	PriceDecimals = 18 // Dp: prices, shares, rates
)

var precision = uint256.NewInt(1_000_000_000_000_000_000)

// Quote is an amount of the quote token at QuoteDecimals.
// Signed so PnL, net deltas and funding charges share the type; stored
// balances are kept non-negative by their owners.
type Quote int64

// Price is an unsigned fixed-point value at PriceDecimals.
type Price struct {
	v uint256.Int
}

// Precision returns 1.0 at PriceDecimals.
func Precision() Price {
	return Price{v: *precision}
}

// NewPrice wraps raw Dp units.
func NewPrice(raw uint64) Price {
	var p Price
	p.v.SetUint64(raw)
	return p
}

// PriceFromInt returns whole × 10^18.
func PriceFromInt(whole uint64) Price {
	var p Price
	p.v.Mul(uint256.NewInt(whole), precision)
	return p
}

// PriceFromUint256 copies u.
func PriceFromUint256(u *uint256.Int) Price {
	var p Price
	p.v.Set(u)
	return p
}

// PriceFromRaw parses a base-10 string of raw Dp units.
func PriceFromRaw(s string) (Price, error) {
	u, err := uint256.FromDecimal(s)
	if err != nil {
		return Price{}, fmt.Errorf("parse price %q: %w", s, err)
	}
	return PriceFromUint256(u), nil
}

// ParsePrice parses a human decimal ("2000.5", "0.001") into Dp units.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("parse price %q: %w", s, err)
	}
	if d.IsNegative() {
		return Price{}, fmt.Errorf("parse price %q: negative", s)
	}
	scaled := d.Shift(PriceDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return Price{}, fmt.Errorf("parse price %q: more than %d decimals", s, PriceDecimals)
	}
	u, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return Price{}, types.ErrArithmeticOverflow
	}
	return PriceFromUint256(u), nil
}

// MustParsePrice panics on malformed input. Intended for constants and tests.
func MustParsePrice(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Price) Uint256() *uint256.Int {
	c := p.v
	return &c
}

func (p Price) IsZero() bool       { return p.v.IsZero() }
func (p Price) Cmp(o Price) int    { return p.v.Cmp(&o.v) }
func (p Price) Eq(o Price) bool    { return p.v.Eq(&o.v) }
func (p Price) Lt(o Price) bool    { return p.v.Lt(&o.v) }
func (p Price) Gt(o Price) bool    { return p.v.Gt(&o.v) }
func (p Price) String() string     { return p.v.Dec() }
func (p Price) IsUint64() bool     { return p.v.IsUint64() }
func (p Price) Uint64() uint64     { return p.v.Uint64() }
func (p Price) Bytes32() [32]byte  { return p.v.Bytes32() }

// Add returns p + o. Dp values in this engine stay far below 2^255.
func (p Price) Add(o Price) Price {
	var r Price
	r.v.Add(&p.v, &o.v)
	return r
}

// Sub returns p - o, saturating at zero.
func (p Price) Sub(o Price) Price {
	var r Price
	if p.v.Lt(&o.v) {
		return r
	}
	r.v.Sub(&p.v, &o.v)
	return r
}

// Human renders the value with its decimal point, e.g. "2000.5".
func (p Price) Human() string {
	return decimal.NewFromBigInt(p.v.ToBig(), -PriceDecimals).String()
}

// Float64 is for metrics and logs only.
func (p Price) Float64() float64 {
	return decimal.NewFromBigInt(p.v.ToBig(), -PriceDecimals).InexactFloat64()
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.v.Dec())
}

func (p *Price) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := PriceFromRaw(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseQuote parses a human decimal ("1000.5") into Dq units.
func ParseQuote(s string) (Quote, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	scaled := d.Shift(QuoteDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("parse amount %q: more than %d decimals", s, QuoteDecimals)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, types.ErrArithmeticOverflow
	}
	return Quote(scaled.IntPart()), nil
}

// QuoteFromInt returns whole × 10^6.
func QuoteFromInt(whole int64) Quote {
	return Quote(whole * 1_000_000)
}

func (q Quote) Abs() Quote {
	if q < 0 {
		return -q
	}
	return q
}

// Human renders the amount with six decimals, e.g. "5490.000000".
func (q Quote) Human() string {
	return decimal.New(int64(q), -QuoteDecimals).StringFixed(QuoteDecimals)
}

func (q Quote) Decimal() decimal.Decimal {
	return decimal.New(int64(q), -QuoteDecimals)
}

// MulPrice returns q × p / PRECISION, truncated. q must be non-negative.
func MulPrice(q Quote, p Price) (Quote, error) {
	if q < 0 {
		return 0, fmt.Errorf("mul price: negative amount %d", q)
	}
	return mulDivQuote(uint256.NewInt(uint64(q)), &p.v, precision)
}

// Ratio returns num × PRECISION / den as a Price, truncated.
func Ratio(num, den Quote) (Price, error) {
	if num < 0 || den <= 0 {
		return Price{}, fmt.Errorf("ratio: invalid operands %d/%d", num, den)
	}
	var r Price
	_, overflow := r.v.MulDivOverflow(uint256.NewInt(uint64(num)), precision, uint256.NewInt(uint64(den)))
	if overflow {
		return Price{}, types.ErrArithmeticOverflow
	}
	return r, nil
}

// ScalePrice returns p × num / den, truncated.
func ScalePrice(p Price, num, den Quote) (Price, error) {
	if num < 0 || den <= 0 {
		return Price{}, fmt.Errorf("scale price: invalid operands %d/%d", num, den)
	}
	var r Price
	_, overflow := r.v.MulDivOverflow(&p.v, uint256.NewInt(uint64(num)), uint256.NewInt(uint64(den)))
	if overflow {
		return Price{}, types.ErrArithmeticOverflow
	}
	return r, nil
}

// PnL returns size × (exit − entry) / entry for a long and the negation for
// a short. The magnitude is truncated before the sign is applied.
func PnL(size Quote, entry, exit Price, isLong bool) (Quote, error) {
	if size < 0 || entry.IsZero() {
		return 0, fmt.Errorf("pnl: invalid size %d or zero entry", size)
	}
	var diff uint256.Int
	gain := exit.v.Gt(&entry.v)
	if gain {
		diff.Sub(&exit.v, &entry.v)
	} else {
		diff.Sub(&entry.v, &exit.v)
	}
	mag, err := mulDivQuote(uint256.NewInt(uint64(size)), &diff, &entry.v)
	if err != nil {
		return 0, err
	}
	if gain != isLong {
		return -mag, nil
	}
	return mag, nil
}

// Notional returns size × price / entry, the mark value of a position.
func Notional(size Quote, entry, mark Price) (Quote, error) {
	if size < 0 || entry.IsZero() {
		return 0, fmt.Errorf("notional: invalid size %d or zero entry", size)
	}
	return mulDivQuote(uint256.NewInt(uint64(size)), &mark.v, &entry.v)
}

func mulDivQuote(x, y, d *uint256.Int) (Quote, error) {
	var z uint256.Int
	if _, overflow := z.MulDivOverflow(x, y, d); overflow {
		return 0, types.ErrArithmeticOverflow
	}
	if !z.IsUint64() || z.Uint64() > math.MaxInt64 {
		return 0, types.ErrArithmeticOverflow
	}
	return Quote(z.Uint64()), nil
}
