/*
NAME
  section.go

DESCRIPTION
  section.go decodes PSI section headers shared by every table type (PAT,
  PMT, CAT, SDT, ...): table_id, section_syntax_indicator, section_length,
  table_id_extension, version, current_next_indicator, and the trailing
  CRC-32.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package psi decodes and encodes MPEG-2 Program Specific Information
// sections (PAT, PMT, descriptors) and implements the MPEG-2 CRC-32
// variant used to verify them.
package psi

import (
	"github.com/pkg/errors"

	"github.com/ausocean/tstools/bitio"
)

// Well-known table_id values.
const (
	TableIDPAT = 0x00
	TableIDPMT = 0x02
)

// Header is the syntax-section header common to PAT and PMT (and every
// other "current_next" table).
type Header struct {
	TableID         byte
	SectionLength   uint16
	TableIDExt      uint16 // transport_stream_id for PAT, program_number for PMT
	Version         byte
	CurrentNext     bool
	Section         byte
	LastSection     byte
}

// ErrShortSection is returned when a buffer is too small to hold a valid
// PSI section header and CRC.
var ErrShortSection = errors.New("psi: section too short")

// parseHeader decodes the first 8 bytes of a section beginning at
// table_id (the pointer_field, if any, must already be stripped by the
// caller), returning the header and the index of the first byte after it.
func parseHeader(section []byte) (Header, int, error) {
	if len(section) < 8 {
		return Header{}, 0, ErrShortSection
	}
	r := bitio.NewReader(section)
	var h Header
	h.TableID = byte(r.ReadBits(8))
	r.ReadBits(1) // section_syntax_indicator, assumed 1 for tables we decode
	r.ReadBits(1) // private_bit / reserved
	r.ReadBits(2) // reserved
	h.SectionLength = uint16(r.ReadBits(12))
	h.TableIDExt = uint16(r.ReadBits(16))
	r.ReadBits(2) // reserved
	h.Version = byte(r.ReadBits(5))
	h.CurrentNext = r.ReadBits(1) == 1
	h.Section = byte(r.ReadBits(8))
	h.LastSection = byte(r.ReadBits(8))
	if r.Overrun() {
		return Header{}, 0, ErrShortSection
	}
	return h, r.BytesRead(), nil
}

// Descriptor is a single TLV descriptor as found in PMT program-info and
// elementary-stream-info loops, capped per §3 at 256 bytes of data.
type Descriptor struct {
	Tag  byte
	Data []byte
}

func parseDescriptors(b []byte) ([]Descriptor, error) {
	var out []Descriptor
	for i := 0; i < len(b); {
		if i+2 > len(b) {
			return nil, errors.New("psi: truncated descriptor")
		}
		tag := b[i]
		length := int(b[i+1])
		if i+2+length > len(b) {
			return nil, errors.New("psi: descriptor length overruns buffer")
		}
		data := append([]byte(nil), b[i+2:i+2+length]...)
		out = append(out, Descriptor{Tag: tag, Data: data})
		i += 2 + length
	}
	return out, nil
}

// Bytes serializes d back to its TLV wire form.
func (d Descriptor) Bytes() []byte {
	out := make([]byte, 2+len(d.Data))
	out[0] = d.Tag
	out[1] = byte(len(d.Data))
	copy(out[2:], d.Data)
	return out
}
