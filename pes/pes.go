/*
NAME
  pes.go

DESCRIPTION
  pes.go defines the structured representation of a reassembled PES
  (Packetised Elementary Stream) packet and its parser/serializer.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package pes implements PES packet parsing/serialization and the
// per-PID PES extractor that reassembles PES packets out of a TS stream.
package pes

import (
	"github.com/Comcast/gots"
	"github.com/pkg/errors"

	"github.com/ausocean/tstools/bitio"
)

// MaxPacketSize is the largest PES packet this package will build a
// contiguous buffer for (64 KiB, the maximum expressible by the 16-bit
// PES_packet_length field; video streams may advertise 0 for "unbounded").
const MaxPacketSize = 64 * 1 << 10

// Stream IDs, per ISO/IEC 13818-1 tables 2-22 and 2-34, that this package
// names; the private/audio range gets length correction (IsAudioOrPrivate).
const (
	StreamIDProgramStreamMap = 0xBC
	StreamIDPrivateStream1   = 0xBD
	StreamIDPaddingStream    = 0xBE
	StreamIDAudioStart       = 0xC0
	StreamIDAudioEnd         = 0xDF
	StreamIDVideoStart       = 0xE0
	StreamIDVideoEnd         = 0xEF

	H264StreamID  = 0xE0
	H265StreamID  = 0xE0 // H.265 reuses the video stream_id range.
	MJPEGStreamID = 0xE0
	JPEGStreamID  = 0xE0
	PCMStreamID   = 0xC0
	ADPCMStreamID = 0xC1
)

// IsAudioOrPrivate reports whether streamID is one the extractor applies
// its private/audio length-correction heuristic to (§4.2).
func IsAudioOrPrivate(streamID byte) bool {
	return streamID == StreamIDPrivateStream1 || (streamID >= StreamIDAudioStart && streamID <= StreamIDAudioEnd)
}

// Packet is a fully decoded PES packet.
type Packet struct {
	StreamID     byte
	Length       uint16 // PES_packet_length; 0 means unbounded (video)
	ScrambleCtrl byte
	Priority     bool
	DAI          bool // data_alignment_indicator
	Copyright    bool
	Original     bool

	HasPTS bool
	HasDTS bool
	PTS    uint64 // 90 kHz, 33-bit
	DTS    uint64 // 90 kHz, 33-bit

	HeaderLength byte
	Data         []byte // payload following the optional header fields

	// Raw holds the complete reconstructed PES buffer, header through
	// payload, as delivered to the extractor's callback.
	Raw []byte
}

// Errors returned while parsing a PES packet.
var (
	ErrNoStartCode  = errors.New("pes: missing 00 00 01 start code")
	ErrShortPacket  = errors.New("pes: buffer shorter than a PES header")
	ErrMarkerBit    = errors.New("pes: marker bit not set")
	ErrBitstreamOverrun = errors.New("pes: bitstream overrun while parsing")
)

// Parse decodes a PES packet from buf, which must begin with the
// {0x00, 0x00, 0x01} start-code prefix followed by stream_id. Parsing
// fails, without committing p, if the bitstream reader ever overruns.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < 6 {
		return nil, ErrShortPacket
	}
	if buf[0] != 0x00 || buf[1] != 0x00 || buf[2] != 0x01 {
		return nil, ErrNoStartCode
	}

	r := bitio.NewReader(buf)
	r.ReadBits(24) // start code
	p := &Packet{StreamID: byte(r.ReadBits(8))}
	p.Length = uint16(r.ReadBits(16))

	// Padding/program-stream-map/etc streams carry no further structured
	// header; the rest of the packet (if any) is opaque data.
	if !hasOptionalHeader(p.StreamID) {
		p.Data = buf[6:]
		p.Raw = buf
		return p, nil
	}

	if r.BitsRemaining() < 24 {
		return nil, ErrShortPacket
	}
	r.ReadBits(2) // '10'
	p.ScrambleCtrl = byte(r.ReadBits(2))
	p.Priority = r.ReadBits(1) == 1
	p.DAI = r.ReadBits(1) == 1
	p.Copyright = r.ReadBits(1) == 1
	p.Original = r.ReadBits(1) == 1

	ptsDtsFlags := r.ReadBits(2)
	escrFlag := r.ReadBits(1)
	esRateFlag := r.ReadBits(1)
	dsmTrickModeFlag := r.ReadBits(1)
	aciFlag := r.ReadBits(1)
	crcFlag := r.ReadBits(1)
	extFlag := r.ReadBits(1)
	p.HeaderLength = byte(r.ReadBits(8))

	if ptsDtsFlags == gots.PTS_DTS_INDICATOR_ONLY_PTS || ptsDtsFlags == gots.PTS_DTS_INDICATOR_BOTH {
		pts, err := readTimestamp(r, byte(ptsDtsFlags))
		if err != nil {
			return nil, errors.Wrap(err, "parse PTS")
		}
		p.HasPTS = true
		p.PTS = pts
	}
	if ptsDtsFlags == gots.PTS_DTS_INDICATOR_BOTH {
		dts, err := readTimestamp(r, 0b0001)
		if err != nil {
			return nil, errors.Wrap(err, "parse DTS")
		}
		p.HasDTS = true
		p.DTS = dts
	}
	if escrFlag == 1 {
		r.ReadBits(48)
	}
	if esRateFlag == 1 {
		r.ReadBits(24)
	}
	if dsmTrickModeFlag == 1 {
		r.ReadBits(8)
	}
	if aciFlag == 1 {
		r.ReadBits(8)
	}
	if crcFlag == 1 {
		r.ReadBits(16)
	}
	if extFlag == 1 {
		r.ReadBits(8) // a faithful decode of the extension sub-fields is not required by this package's callers
	}

	if r.Overrun() {
		return nil, ErrBitstreamOverrun
	}

	// HeaderLength is authoritative regardless of how many optional fields
	// this parser understood, so data starts at a fixed offset from it
	// rather than from the reader's current position.
	dataStart := 6 + 3 + int(p.HeaderLength)
	if dataStart > len(buf) {
		return nil, ErrBitstreamOverrun
	}
	p.Data = buf[dataStart:]
	p.Raw = buf
	return p, nil
}

func hasOptionalHeader(streamID byte) bool {
	switch streamID {
	case StreamIDProgramStreamMap, 0xBF, 0xF0, 0xF1, 0xFF, 0xF2, 0xF8:
		return false
	default:
		return true
	}
}

// readTimestamp decodes a 33-bit PTS/DTS field with its standard
// 3/15/15-bit split separated by marker bits, prefixed by the 4-bit check
// pattern (0010 for PTS-only, 0011 for PTS-when-DTS-follows, 0001 for DTS).
func readTimestamp(r *bitio.Reader, prefix byte) (uint64, error) {
	got := byte(r.ReadBits(4))
	if got != prefix {
		return 0, errors.Errorf("pes: timestamp prefix %04b, want %04b", got, prefix)
	}
	v := r.ReadBits(3) << 30
	if r.ReadBits(1) != 1 {
		return 0, ErrMarkerBit
	}
	v |= r.ReadBits(15) << 15
	if r.ReadBits(1) != 1 {
		return 0, ErrMarkerBit
	}
	v |= r.ReadBits(15)
	if r.ReadBits(1) != 1 {
		return 0, ErrMarkerBit
	}
	return v, nil
}

// PTSSeconds returns p.PTS converted from the 90 kHz clock to seconds.
func (p *Packet) PTSSeconds() float64 {
	return float64(p.PTS) / gots.PtsClockRate
}

// DTSSeconds returns p.DTS converted from the 90 kHz clock to seconds.
func (p *Packet) DTSSeconds() float64 {
	return float64(p.DTS) / gots.PtsClockRate
}

// Bytes serializes p back into wire form, writing into buf if it has
// enough capacity and allocating a MaxPacketSize buffer otherwise.
func (p *Packet) Bytes(buf []byte) []byte {
	if cap(buf) < MaxPacketSize {
		buf = make([]byte, 0, MaxPacketSize)
	}
	buf = buf[:0]
	buf = append(buf, 0x00, 0x00, 0x01, p.StreamID, byte(p.Length>>8), byte(p.Length))

	if !hasOptionalHeader(p.StreamID) {
		return append(buf, p.Data...)
	}

	ptsDtsFlags := byte(gots.PTS_DTS_INDICATOR_NONE)
	if p.HasPTS && p.HasDTS {
		ptsDtsFlags = byte(gots.PTS_DTS_INDICATOR_BOTH)
	} else if p.HasPTS {
		ptsDtsFlags = byte(gots.PTS_DTS_INDICATOR_ONLY_PTS)
	}

	buf = append(buf, 0x80|p.ScrambleCtrl<<4|boolBit(p.Priority)<<3|boolBit(p.DAI)<<2|boolBit(p.Copyright)<<1|boolBit(p.Original),
		ptsDtsFlags<<6,
		p.HeaderLength)

	if p.HasPTS {
		buf = appendTimestamp(buf, p.PTS, ternary(p.HasDTS, byte(0b0011), byte(0b0010)))
	}
	if p.HasDTS {
		buf = appendTimestamp(buf, p.DTS, 0b0001)
	}
	buf = append(buf, p.Data...)
	return buf
}

func appendTimestamp(buf []byte, ts uint64, prefix byte) []byte {
	var b [5]byte
	b[0] = prefix<<4 | byte((ts>>29)&0x0e) | 0x01
	b[1] = byte(ts >> 22)
	b[2] = byte((ts>>14)&0xfe) | 0x01
	b[3] = byte(ts >> 7)
	b[4] = byte((ts<<1)&0xfe) | 0x01
	return append(buf, b[:]...)
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func ternary(cond bool, t, f byte) byte {
	if cond {
		return t
	}
	return f
}
