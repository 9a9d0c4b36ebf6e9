package streammodel

import "github.com/ausocean/tstools/ts"

// sectionExtractor reassembles PSI sections (PAT/PMT) for one PID,
// analogous in spirit to the PES extractor but far simpler: PSI sections
// are prefixed by a pointer_field rather than a start-code search. Only one
// section is ever in flight on a PID at a time, but distinct completed
// sections pulled from the same PID over time may belong to different
// tables or, for a PMT PID shared by several programs (§4.3 PMT
// inventory), different program_numbers; a sectionExtractor itself is
// agnostic to that and just hands back whichever section bytes finish
// next, leaving attribution to the caller once the section is parsed.
type sectionExtractor struct {
	pid     uint16
	tableID byte
	buf     []byte
	want    int // total section length once known, 0 if not yet known
}

func newSectionExtractor(pid uint16, tableID byte) *sectionExtractor {
	return &sectionExtractor{pid: pid, tableID: tableID}
}

// write feeds one TS packet in and returns a complete section (table_id
// through CRC, pointer_field stripped) when one finishes on this call.
func (e *sectionExtractor) write(pkt *ts.Packet) ([]byte, bool) {
	payload := pkt.Payload()
	if payload == nil {
		return nil, false
	}

	if pkt.PUSI {
		if len(payload) < 1 {
			return nil, false
		}
		pf := int(payload[0])
		if 1+pf >= len(payload) {
			return nil, false
		}
		e.buf = append([]byte(nil), payload[1+pf:]...)
		e.want = 0
	} else if e.buf != nil {
		e.buf = append(e.buf, payload...)
	} else {
		return nil, false
	}

	if e.want == 0 && len(e.buf) >= 3 {
		e.want = 3 + (int(e.buf[1]&0x0f)<<8 | int(e.buf[2]))
	}
	if e.want == 0 || len(e.buf) < e.want {
		return nil, false
	}

	section := e.buf[:e.want]
	e.buf = nil
	e.want = 0
	return section, true
}
