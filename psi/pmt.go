package psi

import "github.com/pkg/errors"

// StreamEntry is one elementary stream listed in a PMT. This decoder
// accepts whatever descriptors the wire contains; no cap on their number
// is enforced here or by streammodel.
type StreamEntry struct {
	StreamType    byte
	ElementaryPID uint16
	Descriptors   []Descriptor
}

// PMT is a fully decoded Program Map Table section.
type PMT struct {
	ProgramNumber uint16 // table_id_extension
	Version       byte
	CurrentNext   bool
	PCRPID        uint16
	Descriptors   []Descriptor // program-level descriptors
	Streams       []StreamEntry
	CRCValid      bool
}

// ErrNotPMT is returned by ParsePMT when section's table_id isn't 0x02.
var ErrNotPMT = errors.New("psi: not a PMT section")

// ParsePMT decodes a PMT section. section must start at table_id (the
// pointer_field must already be stripped) and include the trailing CRC.
func ParsePMT(section []byte) (*PMT, error) {
	h, n, err := parseHeader(section)
	if err != nil {
		return nil, errors.Wrap(err, "parse PMT header")
	}
	if h.TableID != TableIDPMT {
		return nil, ErrNotPMT
	}

	end := 3 + int(h.SectionLength)
	if end > len(section) {
		end = len(section)
	}
	body := section[n : end-4]
	if len(body) < 4 {
		return nil, errors.New("psi: PMT body too short")
	}

	pmt := &PMT{
		ProgramNumber: h.TableIDExt,
		Version:       h.Version,
		CurrentNext:   h.CurrentNext,
		CRCValid:      VerifyCRC(section[:end]),
	}
	pmt.PCRPID = (uint16(body[0]&0x1f) << 8) | uint16(body[1])
	progInfoLen := int((uint16(body[2]&0x03) << 8) | uint16(body[3]))
	i := 4
	if i+progInfoLen > len(body) {
		return nil, errors.New("psi: PMT program_info_length overruns section")
	}
	pmt.Descriptors, err = parseDescriptors(body[i : i+progInfoLen])
	if err != nil {
		return nil, errors.Wrap(err, "parse PMT program descriptors")
	}
	i += progInfoLen

	for i+5 <= len(body) {
		var s StreamEntry
		s.StreamType = body[i]
		s.ElementaryPID = (uint16(body[i+1]&0x1f) << 8) | uint16(body[i+2])
		esInfoLen := int((uint16(body[i+3]&0x03) << 8) | uint16(body[i+4]))
		i += 5
		if i+esInfoLen > len(body) {
			return nil, errors.New("psi: PMT ES_info_length overruns section")
		}
		s.Descriptors, err = parseDescriptors(body[i : i+esInfoLen])
		if err != nil {
			return nil, errors.Wrap(err, "parse PMT ES descriptors")
		}
		i += esInfoLen
		pmt.Streams = append(pmt.Streams, s)
	}
	return pmt, nil
}

// Bytes serializes the PMT back into section-with-CRC form, starting at
// table_id (no pointer_field).
func (p *PMT) Bytes() []byte {
	var progInfo []byte
	for _, d := range p.Descriptors {
		progInfo = append(progInfo, d.Bytes()...)
	}

	body := make([]byte, 0, 4+len(progInfo))
	body = append(body, 0xe0|byte(p.PCRPID>>8), byte(p.PCRPID))
	body = append(body, 0xf0|byte(len(progInfo)>>8), byte(len(progInfo)))
	body = append(body, progInfo...)

	for _, s := range p.Streams {
		var esInfo []byte
		for _, d := range s.Descriptors {
			esInfo = append(esInfo, d.Bytes()...)
		}
		body = append(body, s.StreamType,
			0xe0|byte(s.ElementaryPID>>8), byte(s.ElementaryPID),
			0xf0|byte(len(esInfo)>>8), byte(len(esInfo)))
		body = append(body, esInfo...)
	}

	sectionLen := 5 + len(body) + 4
	out := make([]byte, 3, 3+len(body)+4)
	out[0] = TableIDPMT
	out[1] = 0x80 | 0x30 | byte((sectionLen>>8)&0x03)
	out[2] = byte(sectionLen)
	out = append(out, byte(p.ProgramNumber>>8), byte(p.ProgramNumber))
	cn := byte(0)
	if p.CurrentNext {
		cn = 1
	}
	out = append(out, 0xc0|(p.Version<<1)|cn, 0x00, 0x00)
	out = append(out, body...)
	return AddCRC(out)
}
