/*
NAME
  packet.go

DESCRIPTION
  packet.go defines the 188-byte MPEG-2 Transport Stream packet layout and
  the field accessors every other package in this module builds on.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package ts provides MPEG-2 Transport Stream packet primitives: header
// field access, PID/PCR helpers, and stream pre-alignment, grounding every
// higher-level component in this module (pes, streammodel, smoother,
// tr101290) on a single packet representation.
package ts

import (
	"github.com/pkg/errors"
)

// PacketSize is the fixed size of an ISO/IEC 13818-1 transport packet.
const PacketSize = 188

// SyncByte is the mandatory first octet of every transport packet.
const SyncByte = 0x47

// NullPID is the PID reserved for stuffing/null packets.
const NullPID = 0x1FFF

// Well-known PIDs.
const (
	PatPID = 0x0000
	CatPID = 0x0001
	SdtPID = 0x0011
)

// Errors returned while locating or validating packets.
var (
	ErrShortBuffer = errors.New("ts: buffer shorter than one packet")
	ErrNoSync      = errors.New("ts: sync byte not found")
	ErrBadSync     = errors.New("ts: sync byte mismatch")
)

// Packet is a single 188-byte transport packet, exposed as both the raw
// bytes and its decoded header fields. Adaptation-field and payload slices
// alias into Raw; callers must copy them before mutating Raw.
type Packet struct {
	Raw [PacketSize]byte

	TEI      bool
	PUSI     bool
	Priority bool
	PID      uint16
	Scramble byte // transport scrambling control, 2 bits
	AFC      byte // adaptation field control, 2 bits: 01 payload-only, 10 adaptation-only, 11 both
	CC       byte // continuity counter, 4 bits

	HasPCR bool
	PCR    uint64 // 27 MHz composite, see EncodePCR/DecodePCR
}

// HasAdaptationField reports whether AFC indicates an adaptation field is
// present (0b10 or 0b11).
func (p *Packet) HasAdaptationField() bool { return p.AFC == 0b10 || p.AFC == 0b11 }

// HasPayload reports whether AFC indicates a payload is present (0b01 or
// 0b11).
func (p *Packet) HasPayload() bool { return p.AFC == 0b01 || p.AFC == 0b11 }

// Parse decodes the fixed header (and, if present, the PCR field of the
// adaptation field) from buf into p. buf must be exactly PacketSize bytes
// and start with SyncByte.
func (p *Packet) Parse(buf []byte) error {
	if len(buf) != PacketSize {
		return ErrShortBuffer
	}
	if buf[0] != SyncByte {
		return ErrBadSync
	}
	copy(p.Raw[:], buf)

	p.TEI = buf[1]&0x80 != 0
	p.PUSI = buf[1]&0x40 != 0
	p.Priority = buf[1]&0x20 != 0
	p.PID = (uint16(buf[1]&0x1f) << 8) | uint16(buf[2])
	p.Scramble = (buf[3] >> 6) & 0x3
	p.AFC = (buf[3] >> 4) & 0x3
	p.CC = buf[3] & 0xf

	p.HasPCR = false
	p.PCR = 0
	if p.HasAdaptationField() {
		afl := int(buf[4])
		if afl > 0 && len(buf) >= 5+afl {
			af := buf[5 : 5+afl]
			if len(af) >= 1 && af[0]&0x10 != 0 && len(af) >= 7 {
				p.HasPCR = true
				p.PCR = DecodePCR(af[1:7])
			}
		}
	}
	return nil
}

// Payload returns the packet's payload bytes, or nil if AFC indicates no
// payload. The returned slice aliases Raw.
func (p *Packet) Payload() []byte {
	if !p.HasPayload() {
		return nil
	}
	start := 4
	if p.HasAdaptationField() {
		start += 1 + int(p.Raw[4])
	}
	if start >= PacketSize {
		return nil
	}
	return p.Raw[start:PacketSize]
}

// AdaptationField returns the raw adaptation field bytes (including the
// length byte), or nil if none is present.
func (p *Packet) AdaptationField() []byte {
	if !p.HasAdaptationField() {
		return nil
	}
	afl := int(p.Raw[4])
	end := 5 + afl
	if end > PacketSize {
		end = PacketSize
	}
	return p.Raw[4:end]
}

// DiscontinuityIndicator reports the adaptation field's discontinuity_indicator
// bit, or false if there is no adaptation field or it is empty.
func (p *Packet) DiscontinuityIndicator() bool {
	af := p.AdaptationField()
	if len(af) < 2 {
		return false
	}
	return af[1]&0x80 != 0
}

// Align locates the offset k in [0, PacketSize) such that buf[k],
// buf[k+PacketSize], and buf[k+2*PacketSize] are all SyncByte, per the
// external-interface pre-alignment contract. It requires at least three
// full packets of lookahead.
func Align(buf []byte) (int, error) {
	if len(buf) < 3*PacketSize {
		return 0, ErrShortBuffer
	}
	for k := 0; k < PacketSize; k++ {
		if buf[k] == SyncByte && buf[k+PacketSize] == SyncByte && buf[k+2*PacketSize] == SyncByte {
			return k, nil
		}
	}
	return 0, ErrNoSync
}

// PID reads just the PID field out of a raw, already-aligned packet
// without fully decoding it.
func PID(buf []byte) uint16 {
	return (uint16(buf[1]&0x1f) << 8) | uint16(buf[2])
}
