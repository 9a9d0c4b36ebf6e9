/*
NAME
  streammodel.go

DESCRIPTION
  streammodel.go maintains a double-buffered, self-consistent view of a live
  TS's PAT and every PMT it references, exposing detached snapshots to
  readers without ever showing a torn intermediate state.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package streammodel maintains a self-consistent PAT/PMT snapshot of a
// live transport stream using the two-ROM swap pattern (§4.3).
package streammodel

import (
	"sync"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/ausocean/tstools/psi"
	"github.com/ausocean/tstools/ts"
)

// numPIDs is the size of the dense per-PID arrays this package keeps,
// addressed directly by the 13-bit PID space (§9 Design Notes).
const numPIDs = 8192

// writeGate is how long a freshly promoted next-ROM is held closed to
// writes, absorbing a flapping PAT without producing a torn model.
const writeGate = 500 * time.Millisecond

// pmtCollectionTimeout bounds how long next may sit incomplete (PAT seen,
// not all announced PMTs yet) before being force-reset.
const pmtCollectionTimeout = 5 * time.Second

// Program is one entry of a PAT, paired with its PMT once parsed.
type Program struct {
	ProgramNumber uint16
	PID           uint16
	PMT           *psi.PMT // nil until this program's PMT has been seen
}

// Snapshot is a detached, read-only view of the stream model at one
// instant. Callers may retain and mutate it freely; it shares no state
// with the model that produced it.
type Snapshot struct {
	TransportStreamID uint16
	Programs          []Program
	Complete          bool // true once every announced PMT has been parsed
}

// IsMPTS reports whether snap describes a multi-program transport stream
// (more than one program with a non-zero program_number), per §4.3 Helpers.
func IsMPTS(snap Snapshot) bool {
	n := 0
	for _, p := range snap.Programs {
		if p.ProgramNumber != 0 {
			n++
		}
	}
	return n > 1
}

// FirstProgramPCRPID returns the PCR PID of the first non-NIT program in
// snap with a parsed PMT, and true, or (0, false) if none is available.
func FirstProgramPCRPID(snap Snapshot) (uint16, bool) {
	for _, p := range snap.Programs {
		if p.ProgramNumber != 0 && p.PMT != nil {
			return p.PMT.PCRPID, true
		}
	}
	return 0, false
}

// SectionResult is reported to an optional CRC-integrity callback for
// every completed PSI section the model parses (§4.3 Section CRC integrity).
// PAT/PMT are populated only when TableID identifies that table and it
// decoded successfully, regardless of CRCValid or whether the model has
// promoted a complete snapshot yet; this lets subscribers such as the
// tr101290 monitor track PMT/PID freshness independently of the
// double-buffered promotion gate.
type SectionResult struct {
	PID      uint16
	TableID  byte
	CRCValid bool

	PAT *psi.PAT
	PMT *psi.PMT
}

// rom is one of the two double-buffered slots.
type rom struct {
	pat      *psi.PAT
	programs map[uint16]*Program // by program_number
	pmtPIDs  map[uint16]uint16   // program_number -> PMT PID, for every program the PAT announces
	started  time.Time
}

func newROM() *rom {
	return &rom{programs: make(map[uint16]*Program), pmtPIDs: make(map[uint16]uint16)}
}

func (r *rom) reset() { *r = *newROM() }

// complete reports whether every program named by the PAT has a parsed PMT.
func (r *rom) complete() bool {
	if r.pat == nil {
		return false
	}
	for _, prog := range r.pat.Programs {
		if prog.ProgramNumber == 0 {
			continue // NIT, no PMT expected
		}
		p, ok := r.programs[prog.ProgramNumber]
		if !ok || p.PMT == nil {
			return false
		}
	}
	return true
}

func (r *rom) snapshot() Snapshot {
	copyDescriptors := func(in []psi.Descriptor) []psi.Descriptor {
		out := append([]psi.Descriptor(nil), in...)
		for i := range out {
			out[i].Data = append([]byte(nil), out[i].Data...)
		}
		return out
	}
	s := Snapshot{Complete: r.complete()}
	if r.pat != nil {
		s.TransportStreamID = r.pat.TransportStreamID
		for _, prog := range r.pat.Programs {
			p := Program{ProgramNumber: prog.ProgramNumber, PID: prog.PID}
			if cur, ok := r.programs[prog.ProgramNumber]; ok && cur.PMT != nil {
				pmtCopy := *cur.PMT
				pmtCopy.Streams = append([]psi.StreamEntry(nil), cur.PMT.Streams...)
				for i := range pmtCopy.Streams {
					pmtCopy.Streams[i].Descriptors = copyDescriptors(pmtCopy.Streams[i].Descriptors)
				}
				pmtCopy.Descriptors = copyDescriptors(cur.PMT.Descriptors)
				p.PMT = &pmtCopy
			}
			s.Programs = append(s.Programs, p)
		}
	}
	return s
}

// Model is a live, writer-driven PAT/PMT stream model. Model is safe for
// concurrent use: one writer thread calls Write, any number of readers call
// Snapshot.
type Model struct {
	mu      sync.Mutex
	current *rom
	next    *rom

	gateUntil time.Time

	sectionCB func(SectionResult)
	log       logging.Logger

	patExtractor  *sectionExtractor
	pmtExtractors map[uint16]*sectionExtractor // by PMT PID

	now func() time.Time
}

// Option configures a Model.
type Option func(*Model) error

// WithSectionCallback registers cb to be invoked once per completed PSI
// section this model parses, reporting its CRC-32 verification result
// (§4.3 Section CRC integrity). Used by the tr101290 package for P1.3a/P2.2.
func WithSectionCallback(cb func(SectionResult)) Option {
	return func(m *Model) error { m.sectionCB = cb; return nil }
}

// WithLogger sets the logger used for discarded/malformed sections.
func WithLogger(log logging.Logger) Option {
	return func(m *Model) error { m.log = log; return nil }
}

// New returns a Model ready to receive Write calls.
func New(opts ...Option) (*Model, error) {
	m := &Model{
		current:       newROM(),
		next:          newROM(),
		patExtractor:  newSectionExtractor(ts.PatPID, psi.TableIDPAT),
		pmtExtractors: make(map[uint16]*sectionExtractor),
		now:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.log == nil {
		m.log = noopLogger{}
	}
	return m, nil
}

// Write feeds pkt into the model, updating the writer-only next ROM.
// Writes are silently discarded while the write gate following a recent
// promotion is closed.
func (m *Model) Write(pkt *ts.Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.now().Before(m.gateUntil) {
		return
	}
	if m.next.started.IsZero() {
		m.next.started = m.now()
	} else if m.now().Sub(m.next.started) > pmtCollectionTimeout {
		m.next.reset()
		m.next.started = m.now()
	}

	if pkt.PID == ts.PatPID {
		section, ok := m.patExtractor.write(pkt)
		if ok {
			m.handlePAT(section)
		}
		return
	}

	if !m.isPMTPID(pkt.PID) {
		return
	}
	ext, ok := m.pmtExtractors[pkt.PID]
	if !ok {
		ext = newSectionExtractor(pkt.PID, psi.TableIDPMT)
		m.pmtExtractors[pkt.PID] = ext
	}
	section, ok := ext.write(pkt)
	if ok {
		m.handlePMT(pkt.PID, section)
	}
}

// isPMTPID reports whether pid is currently announced as a PMT PID by any
// program in the PAT being assembled into next. §4.3 PMT inventory allows
// several program_numbers to share one PMT PID; which program_number a
// given section actually belongs to is only known once psi.ParsePMT has
// decoded it (handlePMT uses the parsed program_number, not a guess made
// here), since a TS packet carries no tag beyond its PID to distinguish
// between programs sharing a PID.
func (m *Model) isPMTPID(pid uint16) bool {
	for _, pmtPID := range m.next.pmtPIDs {
		if pmtPID == pid {
			return true
		}
	}
	return false
}

func (m *Model) handlePAT(section []byte) {
	pat, err := psi.ParsePAT(section)
	if err != nil {
		m.report(ts.PatPID, psi.TableIDPAT, false, nil, nil)
		m.log.Debug("streammodel: PAT parse failed", "err", err)
		return
	}
	m.report(ts.PatPID, psi.TableIDPAT, pat.CRCValid, pat, nil)

	m.next.pat = pat
	for _, prog := range pat.Programs {
		if prog.ProgramNumber == 0 {
			continue
		}
		if _, ok := m.next.programs[prog.ProgramNumber]; !ok {
			m.next.programs[prog.ProgramNumber] = &Program{ProgramNumber: prog.ProgramNumber, PID: prog.PID}
		}
		m.next.pmtPIDs[prog.ProgramNumber] = prog.PID
	}
	m.maybePromote()
}

// handlePMT parses a completed PMT section taken off pid and attributes it
// to its program by the program_number decoded from the section itself
// (psi.ParsePMT's ProgramNumber, taken from table_id_extension), never by a
// program_number guessed ahead of parsing. This is what lets one PMT PID
// safely carry sections for several distinct programs in sequence (§4.3 PMT
// inventory): each completed section is self-describing, so there is never
// a need to pick a program_number before the bytes are decoded.
func (m *Model) handlePMT(pid uint16, section []byte) {
	pmt, err := psi.ParsePMT(section)
	if err != nil {
		m.report(pid, psi.TableIDPMT, false, nil, nil)
		m.log.Debug("streammodel: PMT parse failed", "pid", pid, "err", err)
		return
	}
	m.report(pid, psi.TableIDPMT, pmt.CRCValid, nil, pmt)
	if p, ok := m.next.programs[pmt.ProgramNumber]; ok {
		p.PMT = pmt
	} else {
		m.log.Debug("streammodel: PMT for unannounced program", "program", pmt.ProgramNumber, "pid", pid)
	}
	m.maybePromote()
}

func (m *Model) report(pid uint16, tableID byte, valid bool, pat *psi.PAT, pmt *psi.PMT) {
	if m.sectionCB != nil {
		m.sectionCB(SectionResult{PID: pid, TableID: tableID, CRCValid: valid, PAT: pat, PMT: pmt})
	}
}

// maybePromote swaps next into current once next has a complete PAT/PMT set.
func (m *Model) maybePromote() {
	if !m.next.complete() {
		return
	}
	m.current, m.next = m.next, m.current
	m.next.reset()
	m.gateUntil = m.now().Add(writeGate)
}

// Snapshot returns a detached deep copy of the current reader-visible ROM.
func (m *Model) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.snapshot()
}

type noopLogger struct{}

func (noopLogger) SetLevel(int8)                        {}
func (noopLogger) Log(int8, string, ...interface{})     {}
func (noopLogger) Debug(string, ...interface{})         {}
func (noopLogger) Info(string, ...interface{})          {}
func (noopLogger) Warning(string, ...interface{})        {}
func (noopLogger) Error(string, ...interface{})         {}
func (noopLogger) Fatal(string, ...interface{})         {}
