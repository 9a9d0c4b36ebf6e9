package psi

import "github.com/pkg/errors"

// ProgramEntry is one PAT program-to-PMT mapping. A program_number of 0
// designates the network PID (NIT) rather than a real program and is
// excluded from streammodel program counts per §8.
type ProgramEntry struct {
	ProgramNumber uint16
	PID           uint16 // PMT PID, or the network PID when ProgramNumber == 0
}

// PAT is a fully decoded Program Association Table section.
type PAT struct {
	TransportStreamID uint16
	Version           byte
	CurrentNext       bool
	Programs          []ProgramEntry
	CRCValid          bool
}

// ErrNotPAT is returned by ParsePAT when section's table_id isn't 0x00.
var ErrNotPAT = errors.New("psi: not a PAT section")

// ParsePAT decodes a PAT section. section must start at table_id (the
// pointer_field must already be stripped) and include the trailing CRC.
func ParsePAT(section []byte) (*PAT, error) {
	h, n, err := parseHeader(section)
	if err != nil {
		return nil, errors.Wrap(err, "parse PAT header")
	}
	if h.TableID != TableIDPAT {
		return nil, ErrNotPAT
	}

	end := 3 + int(h.SectionLength) // section_length counts everything after itself
	if end > len(section) {
		end = len(section)
	}
	body := section[n : end-4] // exclude trailing CRC

	pat := &PAT{
		TransportStreamID: h.TableIDExt,
		Version:           h.Version,
		CurrentNext:       h.CurrentNext,
		CRCValid:          VerifyCRC(section[:end]),
	}
	for i := 0; i+4 <= len(body); i += 4 {
		prog := uint16(body[i])<<8 | uint16(body[i+1])
		pid := (uint16(body[i+2]&0x1f) << 8) | uint16(body[i+3])
		pat.Programs = append(pat.Programs, ProgramEntry{ProgramNumber: prog, PID: pid})
	}
	return pat, nil
}

// NonNITProgramCount returns the number of programs with a non-zero
// program_number, per §8's "PMT count equals the PAT's program count
// minus entries with program_number == 0" invariant.
func (p *PAT) NonNITProgramCount() int {
	n := 0
	for _, e := range p.Programs {
		if e.ProgramNumber != 0 {
			n++
		}
	}
	return n
}

// Bytes serializes the PAT back into section-with-CRC form, starting at
// table_id (no pointer_field).
func (p *PAT) Bytes() []byte {
	body := make([]byte, 0, 4*len(p.Programs))
	for _, e := range p.Programs {
		body = append(body, byte(e.ProgramNumber>>8), byte(e.ProgramNumber),
			0xe0|byte(e.PID>>8), byte(e.PID))
	}
	sectionLen := 5 + len(body) + 4 // syntax-section fields + body + CRC
	out := make([]byte, 3, 3+len(body)+4)
	out[0] = TableIDPAT
	out[1] = 0x80 | 0x30 | byte((sectionLen>>8)&0x03)
	out[2] = byte(sectionLen)
	out = append(out, byte(p.TransportStreamID>>8), byte(p.TransportStreamID))
	cn := byte(0)
	if p.CurrentNext {
		cn = 1
	}
	out = append(out, 0xc0|(p.Version<<1)|cn, 0x00, 0x00)
	out = append(out, body...)
	return AddCRC(out)
}
