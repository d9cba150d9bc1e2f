// SPDX-License-Identifier: MIT

package rtmp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// AMF0 type markers. Command and data messages carry a flat sequence of
// AMF0-encoded values; only the types below appear in the RTMP command
// vocabulary this server speaks.
const (
	amf0Number      = 0x00
	amf0Boolean     = 0x01
	amf0String      = 0x02
	amf0Object      = 0x03
	amf0Null        = 0x05
	amf0Undefined   = 0x06
	amf0ECMAArray   = 0x08
	amf0ObjectEnd   = 0x09
	amf0StrictArray = 0x0A
	amf0LongString  = 0x0C
)

// ECMAArray distinguishes AMF0 ECMA arrays (marker 0x08) from plain objects
// so cached metadata can be re-encoded with the marker it arrived with.
type ECMAArray map[string]any

// EncodeAMF serializes a sequence of Go values as consecutive AMF0 values.
//
// Supported types: nil, bool, string, float64 (and the common integer types,
// which are widened to float64 on the wire), map[string]any, ECMAArray and
// []any. Strings longer than 65535 bytes encode as long strings.
func EncodeAMF(values ...any) ([]byte, error) {
	var buf bytes.Buffer
	for i, v := range values {
		if err := amfEncodeValue(&buf, v); err != nil {
			return nil, fmt.Errorf("amf: encode value %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeAMF decodes every AMF0 value in data. Undefined decodes to nil.
func DecodeAMF(data []byte) ([]any, error) {
	r := bytes.NewReader(data)
	var out []any
	for r.Len() > 0 {
		v, err := amfDecodeValue(r)
		if err != nil {
			return nil, fmt.Errorf("amf: decode value %d: %w", len(out), err)
		}
		out = append(out, v)
	}
	return out, nil
}

func amfEncodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte(amf0Null)
	case bool:
		buf.WriteByte(amf0Boolean)
		if val {
			buf.WriteByte(0x01)
		} else {
			buf.WriteByte(0x00)
		}
	case float64:
		amfEncodeNumber(buf, val)
	case int:
		amfEncodeNumber(buf, float64(val))
	case int64:
		amfEncodeNumber(buf, float64(val))
	case uint32:
		amfEncodeNumber(buf, float64(val))
	case string:
		amfEncodeString(buf, val)
	case ECMAArray:
		buf.WriteByte(amf0ECMAArray)
		var count [4]byte
		binary.BigEndian.PutUint32(count[:], uint32(len(val)))
		buf.Write(count[:])
		if err := amfEncodeProperties(buf, val); err != nil {
			return err
		}
	case map[string]any:
		buf.WriteByte(amf0Object)
		if err := amfEncodeProperties(buf, val); err != nil {
			return err
		}
	case []any:
		buf.WriteByte(amf0StrictArray)
		var count [4]byte
		binary.BigEndian.PutUint32(count[:], uint32(len(val)))
		buf.Write(count[:])
		for i, elem := range val {
			if err := amfEncodeValue(buf, elem); err != nil {
				return fmt.Errorf("array index %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unsupported type %T", v)
	}
	return nil
}

func amfEncodeNumber(buf *bytes.Buffer, v float64) {
	var b [9]byte
	b[0] = amf0Number
	binary.BigEndian.PutUint64(b[1:], math.Float64bits(v))
	buf.Write(b[:])
}

func amfEncodeString(buf *bytes.Buffer, s string) {
	if len(s) > math.MaxUint16 {
		var hdr [5]byte
		hdr[0] = amf0LongString
		binary.BigEndian.PutUint32(hdr[1:], uint32(len(s)))
		buf.Write(hdr[:])
		buf.WriteString(s)
		return
	}
	var hdr [3]byte
	hdr[0] = amf0String
	binary.BigEndian.PutUint16(hdr[1:], uint16(len(s)))
	buf.Write(hdr[:])
	buf.WriteString(s)
}

// amfEncodeProperties writes the key/value body shared by objects and ECMA
// arrays, terminated by the empty-key object-end marker. Keys are sorted so
// encoded output is deterministic.
func amfEncodeProperties(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var klen [2]byte
	for _, k := range keys {
		if len(k) > math.MaxUint16 {
			return fmt.Errorf("property key %q exceeds 65535 bytes", k[:32])
		}
		binary.BigEndian.PutUint16(klen[:], uint16(len(k)))
		buf.Write(klen[:])
		buf.WriteString(k)
		if err := amfEncodeValue(buf, m[k]); err != nil {
			return fmt.Errorf("property %q: %w", k, err)
		}
	}
	buf.Write([]byte{0x00, 0x00, amf0ObjectEnd})
	return nil
}

func amfDecodeValue(r *bytes.Reader) (any, error) {
	marker, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch marker {
	case amf0Number:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("number: %w", err)
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b[:])), nil
	case amf0Boolean:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("boolean: %w", err)
		}
		return b != 0x00, nil
	case amf0String:
		return amfDecodeShortString(r)
	case amf0LongString:
		var lb [4]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return nil, fmt.Errorf("long string length: %w", err)
		}
		n := binary.BigEndian.Uint32(lb[:])
		if uint32(r.Len()) < n {
			return nil, fmt.Errorf("long string: %d bytes declared, %d available", n, r.Len())
		}
		s := make([]byte, n)
		if _, err := io.ReadFull(r, s); err != nil {
			return nil, fmt.Errorf("long string: %w", err)
		}
		return string(s), nil
	case amf0Object:
		return amfDecodeProperties(r)
	case amf0ECMAArray:
		var cb [4]byte
		if _, err := io.ReadFull(r, cb[:]); err != nil {
			return nil, fmt.Errorf("ecma array count: %w", err)
		}
		// The declared count is advisory; the body still ends with the
		// object-end marker.
		m, err := amfDecodeProperties(r)
		if err != nil {
			return nil, err
		}
		return ECMAArray(m), nil
	case amf0StrictArray:
		var cb [4]byte
		if _, err := io.ReadFull(r, cb[:]); err != nil {
			return nil, fmt.Errorf("strict array count: %w", err)
		}
		count := binary.BigEndian.Uint32(cb[:])
		out := make([]any, 0, count)
		for i := uint32(0); i < count; i++ {
			v, err := amfDecodeValue(r)
			if err != nil {
				return nil, fmt.Errorf("array index %d: %w", i, err)
			}
			out = append(out, v)
		}
		return out, nil
	case amf0Null, amf0Undefined:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported marker 0x%02x", marker)
	}
}

// amfDecodeShortString reads a 2-byte-length-prefixed string whose marker has
// already been consumed.
func amfDecodeShortString(r *bytes.Reader) (string, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return "", fmt.Errorf("string length: %w", err)
	}
	n := binary.BigEndian.Uint16(lb[:])
	if n == 0 {
		return "", nil
	}
	s := make([]byte, n)
	if _, err := io.ReadFull(r, s); err != nil {
		return "", fmt.Errorf("string: %w", err)
	}
	return string(s), nil
}

// amfDecodeProperties reads object/ECMA-array key-value pairs up to the
// object-end marker. The opening marker (and ECMA count) must already be
// consumed.
func amfDecodeProperties(r *bytes.Reader) (map[string]any, error) {
	out := make(map[string]any)
	for {
		var lb [2]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return nil, fmt.Errorf("property key length: %w", err)
		}
		klen := binary.BigEndian.Uint16(lb[:])
		if klen == 0 {
			end, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("object end: %w", err)
			}
			if end != amf0ObjectEnd {
				return nil, fmt.Errorf("object end: expected 0x%02x, got 0x%02x", amf0ObjectEnd, end)
			}
			return out, nil
		}
		key := make([]byte, klen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("property key: %w", err)
		}
		v, err := amfDecodeValue(r)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", key, err)
		}
		out[string(key)] = v
	}
}
