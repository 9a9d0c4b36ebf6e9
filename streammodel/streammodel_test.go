package streammodel

import (
	"testing"
	"time"

	"github.com/ausocean/tstools/psi"
	"github.com/ausocean/tstools/ts"
)

func sectionPackets(t *testing.T, pid uint16, section []byte) []*ts.Packet {
	t.Helper()
	payload := append([]byte{0x00}, section...) // pointer_field = 0
	var pkts []*ts.Packet
	cc := byte(0)
	for len(payload) > 0 {
		raw := make([]byte, ts.PacketSize)
		raw[0] = ts.SyncByte
		raw[1] = 0x40 | byte(pid>>8) // PUSI on first packet only, set below
		raw[2] = byte(pid)
		raw[3] = 0x10 | cc
		n := copy(raw[4:], payload)
		for i := 4 + n; i < ts.PacketSize; i++ {
			raw[i] = 0xff
		}
		payload = payload[n:]
		var p ts.Packet
		if err := p.Parse(raw); err != nil {
			t.Fatalf("Parse: %v", err)
		}
		pkts = append(pkts, &p)
		cc = (cc + 1) & 0xf
	}
	for i := 1; i < len(pkts); i++ {
		pkts[i].PUSI = false
	}
	return pkts
}

func TestModelPromotesOnCompletePATAndPMT(t *testing.T) {
	pat := &psi.PAT{
		TransportStreamID: 7,
		Programs:          []psi.ProgramEntry{{ProgramNumber: 1, PID: 0x1000}},
	}
	pmt := &psi.PMT{ProgramNumber: 1, PCRPID: 0x100, Streams: []psi.StreamEntry{{StreamType: 0x1b, ElementaryPID: 0x100}}}

	m, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, pkt := range sectionPackets(t, ts.PatPID, pat.Bytes()) {
		m.Write(pkt)
	}
	for _, pkt := range sectionPackets(t, 0x1000, pmt.Bytes()) {
		m.Write(pkt)
	}

	snap := m.Snapshot()
	if !snap.Complete {
		t.Fatalf("expected complete snapshot, got %+v", snap)
	}
	if len(snap.Programs) != 1 || snap.Programs[0].PMT == nil {
		t.Fatalf("expected one program with PMT, got %+v", snap.Programs)
	}
	if snap.Programs[0].PMT.PCRPID != 0x100 {
		t.Errorf("got PCR PID %x want 0x100", snap.Programs[0].PMT.PCRPID)
	}
}

func TestIsMPTSAndFirstProgramPCRPID(t *testing.T) {
	pmtA := &psi.PMT{PCRPID: 0x100}
	snap := Snapshot{Programs: []Program{
		{ProgramNumber: 0, PID: 0x10},
		{ProgramNumber: 1, PID: 0x1000, PMT: pmtA},
		{ProgramNumber: 2, PID: 0x1001},
	}}
	if !IsMPTS(snap) {
		t.Errorf("expected MPTS")
	}
	pid, ok := FirstProgramPCRPID(snap)
	if !ok || pid != 0x100 {
		t.Errorf("got pid=%x ok=%v want 0x100,true", pid, ok)
	}
}

func TestModelHandlesTwoProgramsOnSharedPMTPID(t *testing.T) {
	const sharedPID = 0x1000
	pat := &psi.PAT{
		TransportStreamID: 7,
		Programs: []psi.ProgramEntry{
			{ProgramNumber: 1, PID: sharedPID},
			{ProgramNumber: 2, PID: sharedPID},
		},
	}
	pmt1 := &psi.PMT{ProgramNumber: 1, PCRPID: 0x101, Streams: []psi.StreamEntry{{StreamType: 0x1b, ElementaryPID: 0x101}}}
	pmt2 := &psi.PMT{ProgramNumber: 2, PCRPID: 0x102, Streams: []psi.StreamEntry{{StreamType: 0x0f, ElementaryPID: 0x102}}}

	m, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, pkt := range sectionPackets(t, ts.PatPID, pat.Bytes()) {
		m.Write(pkt)
	}
	// Program 1's PMT and program 2's PMT arrive as two complete, separate
	// sections in sequence on the one shared PID, as §4.3 PMT inventory
	// allows; the model must attribute each to its own program_number
	// rather than corrupting one with the other.
	for _, pkt := range sectionPackets(t, sharedPID, pmt1.Bytes()) {
		m.Write(pkt)
	}
	for _, pkt := range sectionPackets(t, sharedPID, pmt2.Bytes()) {
		m.Write(pkt)
	}

	snap := m.Snapshot()
	if !snap.Complete {
		t.Fatalf("expected complete snapshot, got %+v", snap)
	}
	if len(snap.Programs) != 2 {
		t.Fatalf("expected two programs, got %+v", snap.Programs)
	}
	for _, p := range snap.Programs {
		if p.PMT == nil {
			t.Fatalf("program %d missing PMT: %+v", p.ProgramNumber, snap.Programs)
		}
		switch p.ProgramNumber {
		case 1:
			if p.PMT.PCRPID != 0x101 {
				t.Errorf("program 1: got PCR PID %x want 0x101", p.PMT.PCRPID)
			}
		case 2:
			if p.PMT.PCRPID != 0x102 {
				t.Errorf("program 2: got PCR PID %x want 0x102", p.PMT.PCRPID)
			}
		default:
			t.Errorf("unexpected program number %d", p.ProgramNumber)
		}
	}
}

func TestWriteGateDiscardsDuringGate(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base := time.Unix(0, 0)
	m.now = func() time.Time { return base }
	m.gateUntil = base.Add(writeGate)

	pat := &psi.PAT{TransportStreamID: 1, Programs: []psi.ProgramEntry{{ProgramNumber: 1, PID: 0x1000}}}
	for _, pkt := range sectionPackets(t, ts.PatPID, pat.Bytes()) {
		m.Write(pkt)
	}
	if m.next.pat != nil {
		t.Errorf("expected write to be gated out")
	}
}
