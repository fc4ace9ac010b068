// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// LINE FRAMING
// =============================================================================

// LineBuffer splits decoded text into complete lines. A line is complete
// only once its '\n' has been seen; the unterminated tail is kept for the
// next Feed.
type LineBuffer struct {
	buf []byte
}

// Feed appends text and returns every line it completed, without the
// newline.
func (b *LineBuffer) Feed(text []byte) []string {
	start := len(b.buf)
	b.buf = append(b.buf, text...)

	var lines []string
	lineStart := 0
	for search := start; ; {
		i := bytes.IndexByte(b.buf[search:], '\n')
		if i < 0 {
			break
		}
		end := search + i
		lines = append(lines, string(b.buf[lineStart:end]))
		lineStart = end + 1
		search = lineStart
	}

	if lineStart > 0 {
		n := copy(b.buf, b.buf[lineStart:])
		b.buf = b.buf[:n]
	}
	return lines
}

// Pending returns the unterminated tail.
func (b *LineBuffer) Pending() string {
	return string(b.buf)
}

// Len returns the size of the unterminated tail in bytes.
func (b *LineBuffer) Len() int {
	return len(b.buf)
}

// Reset drops the unterminated tail.
func (b *LineBuffer) Reset() {
	b.buf = b.buf[:0]
}

// =============================================================================
// UTF-8 DECODING
// =============================================================================

// UTF8Decoder decodes a byte stream chunk by chunk. A multi-byte character
// split across chunks is held back until its remaining bytes arrive. A
// leading byte order mark is dropped and invalid sequences become U+FFFD.
type UTF8Decoder struct {
	t     transform.Transformer
	carry []byte
	dst   []byte
}

// NewUTF8Decoder returns a decoder with empty state.
func NewUTF8Decoder() *UTF8Decoder {
	return &UTF8Decoder{t: unicode.UTF8BOM.NewDecoder()}
}

// Decode returns the text decodable from chunk plus any carried bytes. The
// returned slice is only valid until the next call.
func (d *UTF8Decoder) Decode(chunk []byte) []byte {
	src := chunk
	if len(d.carry) > 0 {
		src = append(d.carry, chunk...)
	}

	// Worst case every byte becomes a 3-byte replacement character.
	if need := len(src)*3 + utf8.UTFMax; cap(d.dst) < need {
		d.dst = make([]byte, need)
	}
	dst := d.dst[:cap(d.dst)]

	out := dst[:0]
	for len(src) > 0 {
		nDst, nSrc, err := d.t.Transform(dst[len(out):], src, false)
		out = dst[:len(out)+nDst]
		src = src[nSrc:]
		if err == transform.ErrShortDst {
			grown := make([]byte, len(out), 2*cap(dst)+utf8.UTFMax)
			copy(grown, out)
			d.dst = grown[:cap(grown)]
			dst = d.dst
			out = dst[:len(out)]
			continue
		}
		// ErrShortSrc: an incomplete character at the end waits for more.
		break
	}

	d.carry = append(d.carry[:0], src...)
	return out
}

// Carried reports how many bytes of an incomplete character are held back.
func (d *UTF8Decoder) Carried() int {
	return len(d.carry)
}
