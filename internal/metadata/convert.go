package metadata

// Rational is a numerator/denominator pair as stored in EXIF fields.
// Plain numeric values are represented with Den == 1.
type Rational struct {
	Num int64
	Den int64
}

// Float converts the rational to a float64. ok is false when the
// denominator is zero; division by zero is never attempted.
func (r Rational) Float() (float64, bool) {
	if r.Den == 0 {
		return 0, false
	}
	return float64(r.Num) / float64(r.Den), true
}

// DMSToDecimal converts a degree/minute/second triple into decimal
// degrees. ok is false when any component has a zero denominator; the
// hemisphere sign is not applied here, callers negate for S/W
// references.
func DMSToDecimal(deg, min, sec Rational) (float64, bool) {
	d, ok := deg.Float()
	if !ok {
		return 0, false
	}
	m, ok := min.Float()
	if !ok {
		return 0, false
	}
	s, ok := sec.Float()
	if !ok {
		return 0, false
	}
	return d + m/60.0 + s/3600.0, true
}
