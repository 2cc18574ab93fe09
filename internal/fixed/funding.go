package fixed

import (
	"PerpClearing/internal/types"
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Rate is a signed fixed-point value at PriceDecimals, held in two's
// complement. Used for the funding rate and the cumulative funding index.
type Rate struct {
	v uint256.Int
}

// NewRate builds a Rate from a magnitude and a sign.
func NewRate(mag Price, negative bool) Rate {
	var r Rate
	r.v.Set(&mag.v)
	if negative {
		r.v.Neg(&r.v)
	}
	return r
}

// RateFromRaw parses a signed base-10 string of raw Dp units.
func RateFromRaw(s string) (Rate, error) {
	neg := len(s) > 0 && s[0] == '-'
	if neg {
		s = s[1:]
	}
	mag, err := PriceFromRaw(s)
	if err != nil {
		return Rate{}, err
	}
	return NewRate(mag, neg), nil
}

func (r Rate) Sign() int       { return r.v.Sign() }
func (r Rate) IsZero() bool    { return r.v.IsZero() }
func (r Rate) Eq(o Rate) bool  { return r.v.Eq(&o.v) }
func (r Rate) Slt(o Rate) bool { return r.v.Slt(&o.v) }

// Bytes32 is the two's complement big-endian encoding.
func (r Rate) Bytes32() [32]byte { return r.v.Bytes32() }

// Abs returns the magnitude.
func (r Rate) Abs() Price {
	var p Price
	p.v.Abs(&r.v)
	return p
}

func (r Rate) Neg() Rate {
	var n Rate
	n.v.Neg(&r.v)
	return n
}

func (r Rate) Add(o Rate) Rate {
	var s Rate
	s.v.Add(&r.v, &o.v)
	return s
}

func (r Rate) Sub(o Rate) Rate {
	var s Rate
	s.v.Sub(&r.v, &o.v)
	return s
}

func (r Rate) String() string {
	if r.v.Sign() < 0 {
		return "-" + r.Abs().String()
	}
	return r.v.Dec()
}

// Human renders the rate with its decimal point, e.g. "-0.005".
func (r Rate) Human() string {
	abs := r.Abs()
	d := decimal.NewFromBigInt(abs.v.ToBig(), -PriceDecimals)
	if r.v.Sign() < 0 {
		d = d.Neg()
	}
	return d.String()
}

// Float64 is for metrics and logs only.
func (r Rate) Float64() float64 {
	f := r.Abs().Float64()
	if r.v.Sign() < 0 {
		return -f
	}
	return f
}

func (r Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Rate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := RateFromRaw(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// FundingRate returns (L − S) / (L + S) × factor, positive when longs
// dominate. Zero when there is no open interest.
func FundingRate(oiLong, oiShort Quote, factor Price) (Rate, error) {
	if oiLong < 0 || oiShort < 0 {
		return Rate{}, fmt.Errorf("funding rate: negative open interest %d/%d", oiLong, oiShort)
	}
	total := oiLong + oiShort
	if total == 0 || oiLong == oiShort {
		return Rate{}, nil
	}
	imbalance := oiLong - oiShort
	var mag Price
	_, overflow := mag.v.MulDivOverflow(
		uint256.NewInt(uint64(imbalance.Abs())),
		&factor.v,
		uint256.NewInt(uint64(total)),
	)
	if overflow {
		return Rate{}, types.ErrArithmeticOverflow
	}
	return NewRate(mag, imbalance < 0), nil
}

// FundingIndexDelta returns rate × elapsed / interval, truncated toward zero.
func FundingIndexDelta(rate Rate, elapsed, interval int64) (Rate, error) {
	if elapsed <= 0 || rate.IsZero() {
		return Rate{}, nil
	}
	if interval <= 0 {
		return Rate{}, fmt.Errorf("funding index: non-positive interval %d", interval)
	}
	abs := rate.Abs()
	var mag Price
	_, overflow := mag.v.MulDivOverflow(&abs.v, uint256.NewInt(uint64(elapsed)), uint256.NewInt(uint64(interval)))
	if overflow {
		return Rate{}, types.ErrArithmeticOverflow
	}
	return NewRate(mag, rate.Sign() < 0), nil
}

// FundingCharge returns size × (index − cursor) / PRECISION for a long,
// negated for a short. Positive means the trader pays.
func FundingCharge(size Quote, cursor, index Rate, isLong bool) (Quote, error) {
	if size < 0 {
		return 0, fmt.Errorf("funding charge: negative size %d", size)
	}
	delta := index.Sub(cursor)
	if delta.IsZero() {
		return 0, nil
	}
	abs := delta.Abs()
	mag, err := mulDivQuote(uint256.NewInt(uint64(size)), &abs.v, precision)
	if err != nil {
		return 0, err
	}
	if (delta.Sign() > 0) != isLong {
		return -mag, nil
	}
	return mag, nil
}
