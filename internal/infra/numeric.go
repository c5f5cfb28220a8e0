package infra

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// NumericToDecimal converts a finite, non-NULL pgtype.Numeric to a decimal.
func NumericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	switch {
	case !n.Valid:
		return decimal.Zero, fmt.Errorf("numeric value is NULL")
	case n.NaN || n.InfinityModifier != pgtype.Finite:
		return decimal.Zero, fmt.Errorf("numeric value is not finite")
	case n.Int == nil:
		return decimal.Zero, nil
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// DecimalToNumeric converts a decimal to pgtype.Numeric without losing scale.
func DecimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{
		Int:              d.Coefficient(),
		Exp:              d.Exponent(),
		InfinityModifier: pgtype.Finite,
		Valid:            true,
	}
}

// NumericToInt64 reads a minor-unit amount from a numeric(15,0) column. Fractional
// values are rejected: an amount column holding a fraction of a minor unit is corrupt.
func NumericToInt64(n pgtype.Numeric) (int64, error) {
	d, err := NumericToDecimal(n)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("numeric value %s is not a whole minor-unit amount", d)
	}
	bi := d.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("numeric value %s overflows int64", bi)
	}
	return bi.Int64(), nil
}

// Int64ToNumeric converts a minor-unit amount for a numeric(15,0) column.
func Int64ToNumeric(v int64) pgtype.Numeric {
	return pgtype.Numeric{
		Int:              big.NewInt(v),
		InfinityModifier: pgtype.Finite,
		Valid:            true,
	}
}
