package mediasched

import "math/big"

// CompareTS orders two timestamps expressed in (possibly different) time
// bases, equivalent to FFmpeg's av_compare_ts: it cross-multiplies by each
// other's denominator/numerator rather than converting to a common base
// first, so it is exact regardless of how the two bases relate. Neither
// tsA nor tsB may be NoTimestamp; callers are expected to special-case that
// themselves, since "unset" has no consistent ordering.
//
// No library in the retrieval pack implements rational-timestamp
// comparison; math/big gives an overflow-safe cross-multiplication without
// hand-rolled 128-bit arithmetic (see DESIGN.md).
func CompareTS(tsA int64, tbA TimeBase, tsB int64, tbB TimeBase) int {
	var a, b big.Int
	a.Mul(big.NewInt(tsA), big.NewInt(tbA.Num))
	a.Mul(&a, big.NewInt(tbB.Den))
	b.Mul(big.NewInt(tsB), big.NewInt(tbB.Num))
	b.Mul(&b, big.NewInt(tbA.Den))
	return a.Cmp(&b)
}

// Rescale converts ts from one time base to another, truncating toward
// zero (unlike av_rescale_q, which rounds to nearest).
func Rescale(ts int64, from, to TimeBase) int64 {
	if from == to || ts == NoTimestamp {
		return ts
	}
	num := new(big.Int).Mul(big.NewInt(ts), big.NewInt(from.Num))
	num.Mul(num, big.NewInt(to.Den))
	den := new(big.Int).Mul(big.NewInt(from.Den), big.NewInt(to.Num))
	if den.Sign() == 0 {
		return ts
	}
	q := new(big.Int).Quo(num, den)
	return q.Int64()
}
