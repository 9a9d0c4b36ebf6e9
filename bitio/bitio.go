/*
NAME
  bitio.go

DESCRIPTION
  bitio provides an MSB-first, bit-accurate reader and writer over a byte
  buffer. A single Reader or Writer is used exclusively in one direction;
  mixing read and write calls on the same instance is undefined.

  Overrun is sticky: once a read runs past the end of the buffer, or a
  write runs past its capacity, the instance's Overrun method reports true
  for the remainder of its life. Callers must check Overrun after parsing
  a structural unit and must not commit partial output when it is set.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package bitio implements the MSB-first bitstream reader/writer used by
// every TS/PES/PSI syntax parser in this module.
package bitio

import "github.com/pkg/errors"

// ErrOverrun is returned by parsers that wrap a Reader/Writer once the
// sticky overrun flag has been observed set.
var ErrOverrun = errors.New("bitio: overrun")

// Reader extracts 1..64 bit fields MSB-first from a byte buffer.
type Reader struct {
	buf    []byte
	used   int // bytes consumed from buf
	reg    uint8
	regLen uint8 // bits currently held in reg, drained MSB-first
	overrun bool
}

// NewReader returns a Reader over buf. buf is not copied; the caller must
// not mutate it while the Reader is in use.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Reset re-associates r with buf and clears all state, including the
// sticky overrun flag.
func (r *Reader) Reset(buf []byte) {
	r.buf = buf
	r.used = 0
	r.reg = 0
	r.regLen = 0
	r.overrun = false
}

// Overrun reports whether a read has ever run past the end of the buffer.
// The flag is sticky until Reset is called.
func (r *Reader) Overrun() bool { return r.overrun }

// BytesRead returns the number of whole bytes consumed from the backing
// buffer so far (bits held in the shift register are not yet "consumed").
func (r *Reader) BytesRead() int { return r.used }

// BitsRemaining returns the number of unread bits: those in the buffer's
// unconsumed bytes plus any still staged in the shift register.
func (r *Reader) BitsRemaining() int {
	return (len(r.buf)-r.used)*8 + int(r.regLen)
}

// ReadBit returns the next bit, loading the next byte into the shift
// register if it is empty. On overrun it returns 0 and sets the sticky
// flag.
func (r *Reader) ReadBit() uint32 {
	if r.regLen == 0 {
		if r.used >= len(r.buf) {
			r.overrun = true
			return 0
		}
		r.reg = r.buf[r.used]
		r.used++
		r.regLen = 8
	}
	bit := uint32(0)
	if r.reg&0x80 != 0 {
		bit = 1
	}
	r.reg <<= 1
	r.regLen--
	return bit
}

// ReadBits reads n (1..64) bits and returns them right-justified in a
// uint64, MSB first. A byte-aligned fast path is used when n == 8 and the
// shift register is currently empty.
func (r *Reader) ReadBits(n uint) uint64 {
	if n == 8 && r.regLen == 0 {
		if r.used >= len(r.buf) {
			r.overrun = true
			return 0
		}
		b := r.buf[r.used]
		r.used++
		return uint64(b)
	}
	var v uint64
	for i := uint(0); i < n; i++ {
		v <<= 1
		v |= uint64(r.ReadBit())
	}
	return v
}

// PeekBits is the non-destructive equivalent of ReadBits: it snapshots the
// reader's state, reads n bits, then restores the snapshot.
func (r *Reader) PeekBits(n uint) uint64 {
	saved := *r
	v := r.ReadBits(n)
	*r = saved
	return v
}

// AlignToByte discards any bits left in the shift register so the next
// read starts at a byte boundary.
func (r *Reader) AlignToByte() {
	r.reg = 0
	r.regLen = 0
}

// Move consumes n bits from src and emits them into dst, propagating
// overrun from either side. It is used for transcoding one bitstream's
// fields into another; n may exceed 64, in which case the bits are moved
// in 64-bit chunks so the caller does not have to split the transfer.
func Move(dst *Writer, src *Reader, n uint) {
	for n > 64 {
		dst.WriteBits(src.ReadBits(64), 64)
		n -= 64
	}
	if n > 0 {
		dst.WriteBits(src.ReadBits(n), n)
	}
}

// Writer accumulates 1..64 bit fields MSB-first into a byte buffer.
type Writer struct {
	buf     []byte
	used    int
	reg     uint8
	regLen  uint8
	overrun bool
}

// NewWriter returns a Writer that emits into buf, up to its full capacity
// (len(buf), not cap(buf)).
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Reset re-associates w with buf and clears all state, including the
// sticky overrun flag.
func (w *Writer) Reset(buf []byte) {
	w.buf = buf
	w.used = 0
	w.reg = 0
	w.regLen = 0
	w.overrun = false
}

// Overrun reports whether a write has ever run past the buffer's capacity.
func (w *Writer) Overrun() bool { return w.overrun }

// BytesWritten returns the number of whole bytes committed to the backing
// buffer so far.
func (w *Writer) BytesWritten() int { return w.used }

// WriteBit emits a single bit, flushing a full byte to the buffer once
// eight bits have accumulated in the shift register.
func (w *Writer) WriteBit(bit uint32) {
	if w.used >= len(w.buf) && w.regLen == 0 {
		w.overrun = true
		return
	}
	w.reg <<= 1
	w.reg |= uint8(bit & 1)
	w.regLen++
	if w.regLen == 8 {
		if w.used >= len(w.buf) {
			w.overrun = true
			return
		}
		w.buf[w.used] = w.reg
		w.used++
		w.regLen = 0
	}
}

// WriteBits emits the low n (1..64) bits of v, MSB first.
func (w *Writer) WriteBits(v uint64, n uint) {
	for i := int(n) - 1; i >= 0; i-- {
		w.WriteBit(uint32(v >> uint(i)))
	}
}

// ByteStuff pads the shift register out to a byte boundary by repeating
// bit until the register empties into the buffer.
func (w *Writer) ByteStuff(bit uint32) {
	for w.regLen > 0 {
		w.WriteBit(bit)
	}
}

// Flush pads any partial trailing byte with zero bits. Callers invoke this
// once no more fields will be written, to ensure a dangling partial byte
// is committed to the buffer.
func (w *Writer) Flush() {
	for w.regLen > 0 {
		w.WriteBit(0)
	}
}

// CopyBits is the non-destructive counterpart to Move: src's read position
// is left unchanged, so the same n bits can subsequently be consumed for
// real by a later Move or ReadBits call.
func CopyBits(dst *Writer, src *Reader, n uint) {
	saved := *src
	Move(dst, &saved, n)
}
