/*
NAME
  extractor.go

DESCRIPTION
  extractor.go reassembles PES packets for a single (PID, stream_id) pair
  out of a live TS stream, optionally reordering them into monotonic PTS
  order before delivery.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package pes

import (
	"bytes"
	"sort"

	"github.com/ausocean/utils/logging"

	"github.com/ausocean/tstools/ts"
)

// appendState is the extractor's state machine over PUSI: the extractor is
// either Idle (waiting for the first PUSI=1 packet) or Collecting
// (appending payload into the ring). A PUSI=1 packet while Collecting ends
// the previous PES, which is parsed, and the extractor stays Collecting.
type appendState int

const (
	stateIdle appendState = iota
	stateCollecting
)

// Defaults for the ring's soft/hard overflow caps (§4.2 Failure modes).
const (
	DefaultRingMin = 4 * 1 << 20  // 4 MiB
	DefaultRingMax = 32 * 1 << 20 // 32 MiB
)

// orderedListDepth is the fixed size of the PTS-reordering holding list
// (§4.2 Ordered output mode), matching the original implementation.
const orderedListDepth = 10

// ptsWrapThresholdTicks is how far behind (in 90 kHz ticks) a newly
// arrived PTS must be from the last delivered one before it is treated as
// a wrap rather than simple disorder.
const ptsWrapThresholdTicks = 10 * 90000 // 10 seconds at 90 kHz

// ptsModulus is the modulus a 33-bit PTS wraps at.
const ptsModulus = uint64(1) << 33

// Callback is invoked once per fully reassembled PES packet. The callee
// owns pkt and its backing arrays; the extractor never reuses them.
type Callback func(pkt *Packet)

// Config configures an Extractor, matching §6's enumerated configuration
// surface for the PES extractor.
type Config struct {
	PID           uint16
	StreamID      byte
	OrderedOutput bool
	RingMin       int
	RingMax       int
	Logger        logging.Logger
}

// Extractor reassembles PES packets for one (PID, stream_id) pair. It is
// single-threaded: Write and any delivered Callback both run on the
// caller's goroutine.
type Extractor struct {
	cfg Config
	cb  Callback

	ring  []byte
	state appendState

	ordered      []orderedItem
	haveLastPTS  bool
	lastPTS      uint64
	basePTS      uint64

	lostPackets int
	log         logging.Logger
}

type orderedItem struct {
	correctedPTS uint64
	pkt          *Packet
}

// NewExtractor returns an Extractor for cfg, delivering completed PES
// packets to cb. Zero-valued RingMin/RingMax are replaced with
// DefaultRingMin/DefaultRingMax.
func NewExtractor(cfg Config, cb Callback) *Extractor {
	if cfg.RingMin <= 0 {
		cfg.RingMin = DefaultRingMin
	}
	if cfg.RingMax <= 0 {
		cfg.RingMax = DefaultRingMax
	}
	log := cfg.Logger
	if log == nil {
		log = noopLogger{}
	}
	return &Extractor{cfg: cfg, cb: cb, log: log}
}

// LostPackets returns the count of non-fatal ring-overflow loss events
// observed so far (§4.2 Failure modes).
func (e *Extractor) LostPackets() int { return e.lostPackets }

// Write feeds one TS packet into the extractor. Packets on any PID other
// than cfg.PID are ignored.
func (e *Extractor) Write(pkt *ts.Packet) {
	if pkt.PID != e.cfg.PID {
		return
	}
	payload := pkt.Payload()
	if payload == nil {
		return
	}

	switch {
	case pkt.PUSI && e.state == stateIdle:
		e.append(payload)
		e.state = stateCollecting

	case pkt.PUSI && e.state == stateCollecting:
		e.append(payload)
		e.tryParse()

	case !pkt.PUSI && e.state == stateCollecting:
		e.append(payload)

	default: // !PUSI && Idle: nothing started yet.
	}
}

func (e *Extractor) append(payload []byte) {
	if len(e.ring)+len(payload) > e.cfg.RingMax {
		e.log.Debug("pes ring overflow, dropping", "pid", e.cfg.PID, "ringLen", len(e.ring))
		e.ring = e.ring[:0]
		e.state = stateIdle
		e.lostPackets++
		return
	}
	e.ring = append(e.ring, payload...)
}

// tryParse searches backward from the end of the ring for the start-code
// signature of the PES that just began, defining the end of the
// previously-collecting PES; that previous PES is then parsed and
// delivered.
func (e *Extractor) tryParse() {
	sig := []byte{0x00, 0x00, 0x01, e.cfg.StreamID}
	end := lastIndex(e.ring, sig, 16)
	if end < 0 {
		// No new start code found deep enough into the ring yet; keep
		// collecting until one appears.
		return
	}

	raw := append([]byte(nil), e.ring[:end]...)
	e.deliverRaw(raw)
	e.trimForward(end)
}

// deliverRaw applies the private/audio length-correction heuristic, then
// parses and either delivers directly or inserts into the ordered list.
func (e *Extractor) deliverRaw(raw []byte) {
	raw = correctLength(raw)

	pkt, err := Parse(raw)
	if err != nil {
		e.log.Debug("pes parse failed, discarding", "pid", e.cfg.PID, "err", err)
		return
	}

	if !e.cfg.OrderedOutput || !pkt.HasPTS {
		e.cb(pkt)
		return
	}
	e.insertOrdered(pkt)
}

// correctLength implements §4.2's private/audio length correction: for
// stream_ids 0xBD and 0xC0-0xDF, when the advertised PES_packet_length
// exceeds the bytes actually available, the extractor scans for the next
// AC-3 (0x0B77) or MPEG/AAC (0xFFFx) sync word and truncates to the last
// complete frame found, or to header-only if none is found. This tolerates
// upstream encoders that pack multiple audio frames per PES without
// reliable advertised lengths; it is preserved here as an observed quirk
// of the source implementation rather than a normative requirement.
func correctLength(raw []byte) []byte {
	if len(raw) < 9 || !IsAudioOrPrivate(raw[3]) {
		return raw
	}
	advertised := 6 + (int(raw[4])<<8 | int(raw[5]))
	if advertised <= len(raw) {
		return raw
	}

	headerLen := 9
	if len(raw) > 8 {
		headerLen = 9 + int(raw[8])
	}
	if headerLen > len(raw) {
		return raw[:6] // header-only: not even the fixed header fit.
	}

	if frameEnd := lastAudioSyncEnd(raw[headerLen:]); frameEnd >= 0 {
		end := headerLen + frameEnd
		out := append([]byte(nil), raw[:end]...)
		out[4] = byte((end - 6) >> 8)
		out[5] = byte(end - 6)
		return out
	}

	out := append([]byte(nil), raw[:6]...)
	out[4], out[5] = 0, 0
	return out
}

// lastAudioSyncEnd returns the offset just past the last complete AC-3 or
// MPEG-audio frame sync word found in data, or -1 if none is found.
func lastAudioSyncEnd(data []byte) int {
	best := -1
	for i := 0; i+1 < len(data); i++ {
		if data[i] == 0x0b && data[i+1] == 0x77 { // AC-3 sync word
			best = i
		} else if data[i] == 0xff && data[i+1]&0xe0 == 0xe0 { // MPEG/AAC sync word
			best = i
		}
	}
	if best < 0 {
		return -1
	}
	return best
}

// insertOrdered inserts pkt into the fixed-depth sorted holding list,
// computing a monotonic "corrected PTS" that accounts for 33-bit PTS
// wraparound, then evicts and delivers the oldest entry once the list
// exceeds orderedListDepth.
func (e *Extractor) insertOrdered(pkt *Packet) {
	corrected := pkt.PTS + e.basePTS
	if e.haveLastPTS && e.lastPTS > corrected && e.lastPTS-corrected > ptsWrapThresholdTicks {
		e.basePTS += ptsModulus
		corrected = pkt.PTS + e.basePTS
	}
	item := orderedItem{correctedPTS: corrected, pkt: pkt}
	i := sort.Search(len(e.ordered), func(i int) bool { return e.ordered[i].correctedPTS >= corrected })
	e.ordered = append(e.ordered, orderedItem{})
	copy(e.ordered[i+1:], e.ordered[i:])
	e.ordered[i] = item

	if len(e.ordered) > orderedListDepth {
		oldest := e.ordered[0]
		e.ordered = e.ordered[1:]
		e.haveLastPTS = true
		e.lastPTS = oldest.correctedPTS
		e.cb(oldest.pkt)
	}
}

// Flush delivers any PES packets still held in the ordered list, oldest
// first. Callers invoke this at end of stream.
func (e *Extractor) Flush() {
	for _, it := range e.ordered {
		e.cb(it.pkt)
	}
	e.ordered = nil
}

// trimForward discards everything in the ring before end, the start of the
// new PES now being collected, in one bulk copy. end has already been
// located by lastIndex's windowed scan; trimForward itself does no search.
func (e *Extractor) trimForward(end int) {
	e.ring = append(e.ring[:0:0], e.ring[end:]...)
}

// lastIndex finds the last occurrence of sig in buf at an offset >= minOffset,
// scanning backward in bounded windows with overlap (mirrors the ring's
// trim-policy scan granularity rather than a single bytes.LastIndex call
// so very large rings don't require a full linear rescan from the end).
func lastIndex(buf, sig []byte, minOffset int) int {
	if len(buf) < minOffset+len(sig) {
		return -1
	}
	const window = 1024
	const overlap = 3
	searchEnd := len(buf)
	for searchEnd > minOffset {
		start := searchEnd - window
		if start < minOffset {
			start = minOffset
		}
		lo := start
		hi := searchEnd
		if hi > len(buf) {
			hi = len(buf)
		}
		if idx := bytes.LastIndex(buf[lo:hi], sig); idx >= 0 {
			return lo + idx
		}
		if start == minOffset {
			break
		}
		searchEnd = start + overlap
	}
	return -1
}

type noopLogger struct{}

func (noopLogger) SetLevel(int8)                                   {}
func (noopLogger) Log(level int8, msg string, args ...interface{}) {}
func (noopLogger) Debug(msg string, args ...interface{})           {}
func (noopLogger) Info(msg string, args ...interface{})            {}
func (noopLogger) Warning(msg string, args ...interface{})         {}
func (noopLogger) Error(msg string, args ...interface{})           {}
func (noopLogger) Fatal(msg string, args ...interface{})           {}
