// Package fixed implements exact fixed-point decimal arithmetic with eight
// fractional digits, the precision pool reserves and share balances are kept
// in. Values are stored as a big.Int count of 1e-8 units, so all operations
// are exact and every division truncates toward zero.
package fixed

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Digits is the number of fractional digits a Dec carries.
const Digits = 8

var (
	// ErrDivisionByZero is returned by Quo when the divisor is zero.
	ErrDivisionByZero = errors.New("fixed: division by zero")
	// ErrNegativeSqrt is returned by Sqrt for negative values.
	ErrNegativeSqrt = errors.New("fixed: square root of negative value")
)

var unitScale = big.NewInt(100_000_000) // 10^Digits

// Dec is an exact decimal with eight fractional digits. The zero value is 0.
type Dec struct {
	units *big.Int
}

func (d Dec) int() *big.Int {
	if d.units == nil {
		return new(big.Int)
	}
	return d.units
}

// Units returns a copy of the value's 1e-8 unit count.
func (d Dec) Units() *big.Int {
	return new(big.Int).Set(d.int())
}

// NewUnits returns the Dec counting n 1e-8 units.
func NewUnits(n int64) Dec {
	return Dec{units: big.NewInt(n)}
}

// FromInt returns n as a Dec.
func FromInt(n int64) Dec {
	return Dec{units: new(big.Int).Mul(big.NewInt(n), unitScale)}
}

// FromString parses a decimal string such as "100", "-3.5" or "0.00000001".
// More than eight fractional digits is an error rather than a silent rounding.
func FromString(s string) (Dec, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Dec{}, fmt.Errorf("fixed: empty decimal")
	}

	neg := false
	switch raw[0] {
	case '+':
		raw = raw[1:]
	case '-':
		neg = true
		raw = raw[1:]
	}

	intPart := raw
	fracPart := ""
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		intPart, fracPart = raw[:i], raw[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return Dec{}, fmt.Errorf("fixed: invalid decimal %q", s)
	}
	if len(fracPart) > Digits {
		return Dec{}, fmt.Errorf("fixed: %q exceeds %d fractional digits", s, Digits)
	}
	if intPart == "" {
		intPart = "0"
	}
	fracPart += strings.Repeat("0", Digits-len(fracPart))

	units, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return Dec{}, fmt.Errorf("fixed: invalid decimal %q", s)
	}
	if neg {
		units.Neg(units)
	}
	return Dec{units: units}, nil
}

// MustFromString parses s and panics on error. For constants and tests.
func MustFromString(s string) Dec {
	d, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Add returns d + other.
func (d Dec) Add(other Dec) Dec {
	return Dec{units: new(big.Int).Add(d.int(), other.int())}
}

// Sub returns d - other.
func (d Dec) Sub(other Dec) Dec {
	return Dec{units: new(big.Int).Sub(d.int(), other.int())}
}

// Mul returns d * other truncated toward zero to eight fractional digits.
func (d Dec) Mul(other Dec) Dec {
	product := new(big.Int).Mul(d.int(), other.int())
	return Dec{units: product.Quo(product, unitScale)}
}

// Quo returns d / other truncated toward zero to eight fractional digits.
func (d Dec) Quo(other Dec) (Dec, error) {
	if other.IsZero() {
		return Dec{}, ErrDivisionByZero
	}
	scaled := new(big.Int).Mul(d.int(), unitScale)
	return Dec{units: scaled.Quo(scaled, other.int())}, nil
}

// Sqrt returns the square root of d, truncated toward zero to eight
// fractional digits.
func (d Dec) Sqrt() (Dec, error) {
	if d.Sign() < 0 {
		return Dec{}, ErrNegativeSqrt
	}
	// sqrt(u / 1e8) * 1e8 == sqrt(u * 1e8), with big.Int.Sqrt flooring.
	scaled := new(big.Int).Mul(d.int(), unitScale)
	return Dec{units: scaled.Sqrt(scaled)}, nil
}

// Neg returns -d.
func (d Dec) Neg() Dec {
	return Dec{units: new(big.Int).Neg(d.int())}
}

// Abs returns |d|.
func (d Dec) Abs() Dec {
	return Dec{units: new(big.Int).Abs(d.int())}
}

// Cmp compares d and other, returning -1, 0 or +1.
func (d Dec) Cmp(other Dec) int {
	return d.int().Cmp(other.int())
}

// Sign returns -1, 0 or +1 for negative, zero and positive values.
func (d Dec) Sign() int {
	return d.int().Sign()
}

// IsZero reports whether d == 0.
func (d Dec) IsZero() bool { return d.Sign() == 0 }

// IsPositive reports whether d > 0.
func (d Dec) IsPositive() bool { return d.Sign() > 0 }

// IsNegative reports whether d < 0.
func (d Dec) IsNegative() bool { return d.Sign() < 0 }

// Equal reports whether d == other.
func (d Dec) Equal(other Dec) bool { return d.Cmp(other) == 0 }

// String formats d in plain decimal notation with trailing fractional zeros
// trimmed.
func (d Dec) String() string {
	units := d.int()
	neg := units.Sign() < 0

	quo, rem := new(big.Int).QuoRem(new(big.Int).Abs(units), unitScale, new(big.Int))
	out := quo.String()
	if rem.Sign() != 0 {
		frac := fmt.Sprintf("%0*d", Digits, rem)
		frac = strings.TrimRight(frac, "0")
		out += "." + frac
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}

// MarshalJSON encodes d as a JSON string.
func (d Dec) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes a JSON string or bare number.
func (d *Dec) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer so a Dec binds to NUMERIC columns as text.
func (d Dec) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner for text-encoded NUMERIC values.
func (d *Dec) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Dec{}
		return nil
	case string:
		parsed, err := FromString(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		return d.Scan(string(v))
	case int64:
		*d = FromInt(v)
		return nil
	default:
		return fmt.Errorf("fixed: cannot scan %T", src)
	}
}
