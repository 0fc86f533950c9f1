package slave

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MySQL stores DECIMAL(P,S) as big-endian groups of up to nine decimal
// digits, four bytes per full group, with the sign carried in the top
// bit of the first byte and negative values stored bit-inverted.
//
// https://dev.mysql.com/doc/internals/en/binary-protocol-value.html

const digitsPerGroup = 9

var groupBytes = [digitsPerGroup + 1]int{0, 1, 1, 2, 2, 3, 3, 4, 4, 4}

// decimalBinSize is the packed size of DECIMAL(precision, scale).
func decimalBinSize(precision, scale int) int {
	intg := precision - scale
	return intg/digitsPerGroup*4 + groupBytes[intg%digitsPerGroup] +
		scale/digitsPerGroup*4 + groupBytes[scale%digitsPerGroup]
}

func readGroup(b []byte) uint32 {
	var v uint32
	for _, x := range b {
		v = v<<8 | uint32(x)
	}
	return v
}

// decodeDecimal reads one packed decimal from r and returns it as a
// decimal.Decimal carrying exactly scale fractional digits.
func decodeDecimal(r *reader, precision, scale int) (decimal.Decimal, error) {
	size := decimalBinSize(precision, scale)
	raw := r.bytes(size)
	if r.err != nil {
		return decimal.Decimal{}, r.err
	}
	if len(raw) == 0 {
		return decimal.Decimal{}, errMalformedField("empty decimal of size %d", size)
	}
	positive := raw[0]&0x80 != 0
	raw[0] ^= 0x80
	if !positive {
		for i := range raw {
			raw[i] ^= 0xff
		}
	}

	intg := precision - scale
	var sb strings.Builder
	if !positive {
		sb.WriteByte('-')
	}

	off := 0
	writeDigits := func(v uint32, digits int, pad bool) {
		s := uintToString(uint64(v))
		if pad {
			for i := len(s); i < digits; i++ {
				sb.WriteByte('0')
			}
		}
		sb.WriteString(s)
	}

	wroteInt := false
	if lead := intg % digitsPerGroup; lead > 0 {
		v := readGroup(raw[off : off+groupBytes[lead]])
		off += groupBytes[lead]
		if v > 0 {
			writeDigits(v, 0, false)
			wroteInt = true
		}
	}
	for i := 0; i < intg/digitsPerGroup; i++ {
		v := readGroup(raw[off : off+4])
		off += 4
		if wroteInt {
			writeDigits(v, digitsPerGroup, true)
		} else if v > 0 {
			writeDigits(v, 0, false)
			wroteInt = true
		}
	}
	if !wroteInt {
		sb.WriteByte('0')
	}

	if scale > 0 {
		sb.WriteByte('.')
		for i := 0; i < scale/digitsPerGroup; i++ {
			writeDigits(readGroup(raw[off:off+4]), digitsPerGroup, true)
			off += 4
		}
		if tail := scale % digitsPerGroup; tail > 0 {
			writeDigits(readGroup(raw[off:off+groupBytes[tail]]), tail, true)
		}
	}

	return decimal.NewFromString(sb.String())
}

// encodeDecimal packs d as DECIMAL(precision, scale). It is the exact
// inverse of decodeDecimal for values that fit the declared precision.
func encodeDecimal(d decimal.Decimal, precision, scale int) ([]byte, error) {
	s := d.StringFixed(int32(scale))
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, fracPart, _ := strings.Cut(s, ".")
	intPart = strings.TrimLeft(intPart, "0")

	intg := precision - scale
	if len(intPart) > intg || len(fracPart) > scale {
		return nil, errMalformedField("%s does not fit decimal(%d,%d)", d, precision, scale)
	}
	intPart = strings.Repeat("0", intg-len(intPart)) + intPart
	fracPart = fracPart + strings.Repeat("0", scale-len(fracPart))

	buf := make([]byte, 0, decimalBinSize(precision, scale))
	writeGroup := func(digits string, n int) {
		var v uint32
		for i := 0; i < len(digits); i++ {
			v = v*10 + uint32(digits[i]-'0')
		}
		for i := n - 1; i >= 0; i-- {
			buf = append(buf, byte(v>>(uint(i)*8)))
		}
	}

	if lead := intg % digitsPerGroup; lead > 0 {
		writeGroup(intPart[:lead], groupBytes[lead])
		intPart = intPart[lead:]
	}
	for len(intPart) > 0 {
		writeGroup(intPart[:digitsPerGroup], 4)
		intPart = intPart[digitsPerGroup:]
	}
	for len(fracPart) >= digitsPerGroup {
		writeGroup(fracPart[:digitsPerGroup], 4)
		fracPart = fracPart[digitsPerGroup:]
	}
	if len(fracPart) > 0 {
		writeGroup(fracPart, groupBytes[len(fracPart)])
	}

	buf[0] ^= 0x80
	if negative {
		for i := range buf {
			buf[i] ^= 0xff
		}
	}
	return buf, nil
}

func uintToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	return string(b[i:])
}
