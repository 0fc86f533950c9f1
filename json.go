package slave

import (
	"io"
	"math"
)

// Binary JSON as stored in the binlog.
//
// https://dev.mysql.com/worklog/task/?id=8132
const (
	jsonSmallObj byte = iota
	jsonLargeObj
	jsonSmallArr
	jsonLargeArr
	jsonLiteral
	jsonInt16
	jsonUInt16
	jsonInt32
	jsonUInt32
	jsonInt64
	jsonUInt64
	jsonDouble
	jsonString
	jsonCustom = 0x0f
)

// decodeJSON turns a binary JSON cell into Go values: map[string]interface{},
// []interface{}, bool, nil, numbers and strings.
func decodeJSON(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return jsonValue(data[0], data[1:])
}

func jsonValue(typ byte, data []byte) (interface{}, error) {
	switch typ {
	case jsonSmallObj:
		return jsonComposite(data, true, true)
	case jsonLargeObj:
		return jsonComposite(data, false, true)
	case jsonSmallArr:
		return jsonComposite(data, true, false)
	case jsonLargeArr:
		return jsonComposite(data, false, false)
	case jsonLiteral:
		return jsonLiteralValue(data)
	case jsonInt16:
		v, err := jsonUint16(data)
		return int16(v), err
	case jsonUInt16:
		return jsonUint16(data)
	case jsonInt32:
		v, err := jsonUint32(data)
		return int32(v), err
	case jsonUInt32:
		return jsonUint32(data)
	case jsonInt64:
		v, err := jsonUint64(data)
		return int64(v), err
	case jsonUInt64:
		return jsonUint64(data)
	case jsonDouble:
		v, err := jsonUint64(data)
		return math.Float64frombits(v), err
	case jsonString:
		return jsonStringValue(data)
	case jsonCustom:
		return jsonOpaque(data)
	}
	return nil, errMalformedField("invalid json value type 0x%02x", typ)
}

func jsonComposite(data []byte, small, obj bool) (interface{}, error) {
	var off int
	readUint := func() (uint32, error) {
		if small {
			v, err := jsonUint16(data[off:])
			off += 2
			return uint32(v), err
		}
		v, err := jsonUint32(data[off:])
		off += 4
		return v, err
	}
	elemCount, err := readUint()
	if err != nil {
		return nil, err
	}
	if _, err := readUint(); err != nil { // total size
		return nil, err
	}

	var keys []string
	if obj {
		keys = make([]string, elemCount)
		for i := uint32(0); i < elemCount; i++ {
			keyOff, err := readUint()
			if err != nil {
				return nil, err
			}
			keyLen, err := jsonUint16(data[off:])
			if err != nil {
				return nil, err
			}
			off += 2
			if len(data) < int(keyOff)+int(keyLen) {
				return nil, io.ErrUnexpectedEOF
			}
			keys[i] = string(data[keyOff : keyOff+uint32(keyLen)])
		}
	}

	inline := func(typ byte) bool {
		switch typ {
		case jsonLiteral, jsonInt16, jsonUInt16:
			return true
		case jsonInt32, jsonUInt32:
			return !small
		}
		return false
	}
	vals := make([]interface{}, elemCount)
	for i := uint32(0); i < elemCount; i++ {
		if off >= len(data) {
			return nil, io.ErrUnexpectedEOF
		}
		typ := data[off]
		off++
		if inline(typ) {
			v, err := jsonValue(typ, data[off:])
			if err != nil {
				return nil, err
			}
			vals[i] = v
			if small {
				off += 2
			} else {
				off += 4
			}
		} else {
			valueOff, err := readUint()
			if err != nil {
				return nil, err
			}
			if int(valueOff) > len(data) {
				return nil, io.ErrUnexpectedEOF
			}
			v, err := jsonValue(typ, data[valueOff:])
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
	}

	if obj {
		m := make(map[string]interface{}, elemCount)
		for i, key := range keys {
			m[key] = vals[i]
		}
		return m, nil
	}
	return vals, nil
}

func jsonLiteralValue(data []byte) (interface{}, error) {
	if len(data) < 1 {
		return nil, io.ErrUnexpectedEOF
	}
	switch data[0] {
	case 0x00:
		return nil, nil
	case 0x01:
		return true, nil
	case 0x02:
		return false, nil
	}
	return nil, errMalformedField("invalid json literal 0x%02x", data[0])
}

func jsonStringValue(data []byte) (interface{}, error) {
	// data-length uses a variable length encoding, 7 bits per byte
	var n, off int
	for {
		if off >= len(data) {
			return nil, io.ErrUnexpectedEOF
		}
		b := data[off]
		n |= int(b&0x7f) << (7 * uint(off))
		off++
		if b&0x80 == 0 {
			break
		}
	}
	if len(data) < off+n {
		return nil, io.ErrUnexpectedEOF
	}
	return string(data[off : off+n]), nil
}

// jsonOpaque covers custom types (decimal, date, time stored inside
// json); the raw payload is returned as bytes.
func jsonOpaque(data []byte) (interface{}, error) {
	if len(data) < 1 {
		return nil, io.ErrUnexpectedEOF
	}
	v, err := jsonStringValue(data[1:])
	if err != nil {
		return nil, err
	}
	return []byte(v.(string)), nil
}

func jsonUint16(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, io.ErrUnexpectedEOF
	}
	return uint16(data[0]) | uint16(data[1])<<8, nil
}

func jsonUint32(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24, nil
}

func jsonUint64(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(data[i])
	}
	return v, nil
}
