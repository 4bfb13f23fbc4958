// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import "encoding/binary"

// Framer tells a MessageLoader whether a complete message sits at the front
// of its buffered prefix, and if so, how long it is. It is the one piece the
// distilled loader design leaves abstract ("given the current prefix, is a
// full message present? what is its length?"); this package supplies two
// implementations below.
type Framer interface {
	// Scan examines buf, the bytes currently buffered but not yet popped
	// into a Message. It reports:
	//   - n: the total length of one complete message at the front of buf,
	//     valid only when ok is true.
	//   - ok: whether a complete message is present.
	//   - overLimit: whether the declared/implied message length exceeds
	//     maxSize; the loader treats this as permanent corruption.
	// Scan must not allocate and must not retain buf.
	Scan(buf []byte, maxSize int) (n int, ok bool, overLimit bool)

	// Split separates a complete frame (buf[:n], n as reported by a prior
	// Scan) into its header and body payload slices. Both returned slices
	// alias buf.
	Split(buf []byte) (header, body []byte)
}

// lengthPrefixTag values, matching internal/wire's own three-tier scheme.
const (
	lpInline8  = 253 // 0..253 encoded directly in the tag byte
	lpTag16    = 0xFE
	lpTag56    = 0xFF
)

// scanLengthPrefix reads one length-prefixed frame's header from buf,
// reporting the frame's total length (prefix + payload) and whether enough
// bytes are buffered to know it. It implements the same tag scheme
// internal/wire uses on the stream transports (1-byte tag; 0xFE + 2 extended
// bytes for 254..65535; 0xFF + 7 extended bytes up to 2^56-1), independently
// of that package, since the loader works directly off its own buffer
// instead of an io.Reader.
func scanLengthPrefix(buf []byte, order binary.ByteOrder) (total int, payload int, ok bool) {
	if len(buf) < 1 {
		return 0, 0, false
	}
	tag := buf[0]
	switch {
	case tag <= lpInline8:
		return 1 + int(tag), int(tag), true
	case tag == lpTag16:
		if len(buf) < 3 {
			return 0, 0, false
		}
		n := int(order.Uint16(buf[1:3]))
		return 3 + n, n, true
	case tag == lpTag56:
		if len(buf) < 8 {
			return 0, 0, false
		}
		var ext [8]byte
		copy(ext[1:8], buf[1:8])
		n := int(order.Uint64(ext[:]) &^ (0xff << 56))
		return 8 + n, n, true
	default:
		// 254..255 other than the two tags above cannot occur; treated as
		// a single inline-length byte would have, but this branch is
		// unreachable given the switch above covers 0..253, 0xFE, 0xFF.
		return 0, 0, false
	}
}

// appendLengthPrefix appends the length-prefixed encoding of payload to dst
// and returns the result, for use by reference Transport implementations
// and tests that need to produce bytes a MessageLoader can consume.
func appendLengthPrefix(dst []byte, payload []byte, order binary.ByteOrder) []byte {
	n := len(payload)
	switch {
	case n <= lpInline8:
		dst = append(dst, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, lpTag16)
		var ext [2]byte
		order.PutUint16(ext[:], uint16(n))
		dst = append(dst, ext[:]...)
	default:
		dst = append(dst, lpTag56)
		var ext [8]byte
		order.PutUint64(ext[:], uint64(n))
		dst = append(dst, ext[1:8]...)
	}
	return append(dst, payload...)
}

// DefaultFramer implements the production wire format: a message is two
// consecutive length-prefixed frames, header then body, using the
// three-tier tag scheme described in scanLengthPrefix. This is the framer a
// real Connection uses; see SPEC_FULL.md §4.1.
type DefaultFramer struct {
	// ByteOrder is the integer encoding used for extended length fields.
	// Defaults to binary.BigEndian when nil.
	ByteOrder binary.ByteOrder
}

func (f DefaultFramer) order() binary.ByteOrder {
	if f.ByteOrder != nil {
		return f.ByteOrder
	}
	return binary.BigEndian
}

// Scan implements Framer.
func (f DefaultFramer) Scan(buf []byte, maxSize int) (n int, ok bool, overLimit bool) {
	order := f.order()

	headerTotal, headerPayload, headerOK := scanLengthPrefix(buf, order)
	if !headerOK {
		return 0, false, false
	}
	if maxSize > 0 && headerPayload > maxSize {
		return 0, false, true
	}
	if len(buf) < headerTotal {
		return 0, false, false
	}

	bodyTotal, bodyPayload, bodyOK := scanLengthPrefix(buf[headerTotal:], order)
	if !bodyOK {
		return 0, false, false
	}
	if maxSize > 0 && headerPayload+bodyPayload > maxSize {
		return 0, false, true
	}
	total := headerTotal + bodyTotal
	if len(buf) < total {
		return 0, false, false
	}
	return total, true, false
}

// Split extracts the (header, body) payload slices from a
// buffer known (via Scan) to contain one complete DefaultFramer message at
// its front. Returned slices alias buf.
func (f DefaultFramer) Split(buf []byte) (header, body []byte) {
	order := f.order()
	headerTotal, headerPayload, _ := scanLengthPrefix(buf, order)
	headerStart := headerTotal - headerPayload
	header = buf[headerStart:headerTotal]

	rest := buf[headerTotal:]
	bodyTotal, bodyPayload, _ := scanLengthPrefix(rest, order)
	bodyStart := bodyTotal - bodyPayload
	body = rest[bodyStart:bodyTotal]
	return header, body
}

// EncodeDefaultMessage serializes header and body into the DefaultFramer
// wire format, for use by reference Transport implementations and tests.
func EncodeDefaultMessage(header, body []byte, order binary.ByteOrder) []byte {
	if order == nil {
		order = binary.BigEndian
	}
	buf := appendLengthPrefix(nil, header, order)
	return appendLengthPrefix(buf, body, order)
}

// StubFramer implements the fixed-length placeholder framing used by the
// distilled specification's test scenario 6: every message is exactly N
// raw bytes, carried whole as the body with an empty header, with no length
// prefix at all. It exists purely so that scenario's byte-offset
// assertions remain checkable against a concrete Framer.
type StubFramer struct {
	// Size is the fixed message length in bytes. Defaults to 7.
	Size int
}

func (f StubFramer) size() int {
	if f.Size <= 0 {
		return 7
	}
	return f.Size
}

// Scan implements Framer.
func (f StubFramer) Scan(buf []byte, maxSize int) (n int, ok bool, overLimit bool) {
	size := f.size()
	if maxSize > 0 && size > maxSize {
		return 0, false, true
	}
	if len(buf) < size {
		return 0, false, false
	}
	return size, true, false
}

// Split returns the whole fixed-size frame as the body, with an empty
// header — StubFramer carries no header/body distinction of its own.
func (f StubFramer) Split(buf []byte) (header, body []byte) {
	return nil, buf[:f.size()]
}
