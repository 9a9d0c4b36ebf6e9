package tr101290

import (
	"testing"
	"time"

	"github.com/ausocean/tstools/psi"
	"github.com/ausocean/tstools/streammodel"
	"github.com/ausocean/tstools/ts"
)

// newStoppedMonitor returns a Monitor with its background event-loop
// goroutine already stopped, so a test can drive scan() deterministically
// on its own goroutine instead of racing a live ticker.
func newStoppedMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Close()
	base := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return base }
	m.lastWrite = base
	m.startTime = base
	m.lastPAT = base
	m.lastSummary = base
	return m
}

func rawPacket(pid uint16, pusi bool, cc byte, payload []byte) *ts.Packet {
	raw := make([]byte, ts.PacketSize)
	raw[0] = ts.SyncByte
	raw[1] = byte(pid >> 8)
	if pusi {
		raw[1] |= 0x40
	}
	raw[2] = byte(pid)
	raw[3] = 0x10 | cc // payload-only
	n := copy(raw[4:], payload)
	for i := 4 + n; i < ts.PacketSize; i++ {
		raw[i] = 0xff
	}
	var p ts.Packet
	if err := p.Parse(raw); err != nil {
		panic(err)
	}
	return &p
}

func TestSyncLossRaiseAndClear(t *testing.T) {
	m := newStoppedMonitor(t, Config{EventEnabled: map[EventID]bool{EventP1PATError: false}})
	var got []Alarm
	m.OnAlarm(func(batch []Alarm) { got = append(got, batch...) })

	m.Write(rawPacket(0x100, true, 0, []byte{1, 2, 3}))
	m.scan()
	if len(got) != 0 {
		t.Fatalf("expected no alarms immediately after a write, got %+v", got)
	}

	base := m.now().Add(syncLossThreshold + time.Millisecond)
	m.now = func() time.Time { return base }
	m.scan()
	if len(got) != 1 || got[0].Event != EventP1TSSyncLoss || !got[0].Raised {
		t.Fatalf("expected EventP1TSSyncLoss raised, got %+v", got)
	}

	got = nil
	m.Write(rawPacket(0x100, true, 1, []byte{1, 2, 3}))
	m.scan()
	if len(got) != 1 || got[0].Event != EventP1TSSyncLoss || got[0].Raised {
		t.Fatalf("expected EventP1TSSyncLoss cleared, got %+v", got)
	}
}

// TestSyncLossReportsExactlyOnceAcrossSustainedOutage drives scan()
// repeatedly across a simulated 5s window with no writes, matching the
// spec's "stop writing for 5s, expect exactly one alarm" scenario: a
// continuously-raised event must not be re-delivered on every poll tick
// just because it is still raised.
func TestSyncLossReportsExactlyOnceAcrossSustainedOutage(t *testing.T) {
	m := newStoppedMonitor(t, Config{EventEnabled: map[EventID]bool{EventP1PATError: false}})
	var got []Alarm
	m.OnAlarm(func(batch []Alarm) { got = append(got, batch...) })

	m.Write(rawPacket(0x100, true, 0, []byte{1, 2, 3}))
	base := m.now()

	for elapsed := time.Duration(0); elapsed <= 5*time.Second; elapsed += pollInterval {
		t := base.Add(syncLossThreshold + elapsed)
		m.now = func() time.Time { return t }
		m.scan()
	}

	var raisedCount int
	for _, a := range got {
		if a.Event == EventP1TSSyncLoss && a.Raised {
			raisedCount++
		}
	}
	if raisedCount != 1 {
		t.Fatalf("expected exactly one raised EventP1TSSyncLoss alarm across a sustained 5s outage, got %d: %+v", raisedCount, got)
	}
}

func TestContinuityCounterError(t *testing.T) {
	m := newStoppedMonitor(t, Config{})
	var got []Alarm
	m.OnAlarm(func(batch []Alarm) { got = append(got, batch...) })

	m.Write(rawPacket(0x100, true, 0, []byte{1}))
	m.Write(rawPacket(0x100, false, 2, []byte{2})) // should have been cc=1
	m.scan()

	found := false
	for _, a := range got {
		if a.Event == EventP1ContinuityCounterError && a.Raised {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected EventP1ContinuityCounterError raised, got %+v", got)
	}
}

func TestContinuityCounterAcceptsAdaptationOnlyRepeat(t *testing.T) {
	m := newStoppedMonitor(t, Config{})
	var got []Alarm
	m.OnAlarm(func(batch []Alarm) { got = append(got, batch...) })

	// Adaptation-field-only packets (AFC 0b10) must repeat the CC, not
	// increment it.
	raw := make([]byte, ts.PacketSize)
	raw[0] = ts.SyncByte
	raw[1] = 0x01
	raw[2] = 0x00
	raw[3] = 0x20 // adaptation-field-only, cc=0
	raw[4] = byte(ts.PacketSize - 5)
	var pkt ts.Packet
	if err := pkt.Parse(raw); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m.Write(&pkt)
	m.Write(&pkt) // repeats cc=0, valid for adaptation-only
	m.scan()

	for _, a := range got {
		if a.Event == EventP1ContinuityCounterError {
			t.Fatalf("did not expect a CC error for a repeated adaptation-only packet: %+v", got)
		}
	}
}

func TestSectionResultCRCFailureRaisesPATError2(t *testing.T) {
	m := newStoppedMonitor(t, Config{EventEnabled: map[EventID]bool{
		EventP2CRCError:  true,
		EventP1PATError2: true,
	}})
	var got []Alarm
	m.OnAlarm(func(batch []Alarm) { got = append(got, batch...) })

	m.SectionResult(streammodel.SectionResult{PID: ts.PatPID, TableID: psi.TableIDPAT, CRCValid: false})
	m.scan()

	var sawCRC, sawPAT2 bool
	for _, a := range got {
		if a.Event == EventP2CRCError && a.Raised {
			sawCRC = true
		}
		if a.Event == EventP1PATError2 && a.Raised {
			sawPAT2 = true
		}
	}
	if !sawCRC || !sawPAT2 {
		t.Fatalf("expected both EventP2CRCError and EventP1PATError2 raised, got %+v", got)
	}
}

func TestPMTAbsenceRaisesAfterThreshold(t *testing.T) {
	m := newStoppedMonitor(t, Config{EventEnabled: map[EventID]bool{EventP1PMTError: true}})
	var got []Alarm
	m.OnAlarm(func(batch []Alarm) { got = append(got, batch...) })

	pat := &psi.PAT{TransportStreamID: 1, Programs: []psi.ProgramEntry{{ProgramNumber: 1, PID: 0x1000}}}
	m.SectionResult(streammodel.SectionResult{PID: ts.PatPID, TableID: psi.TableIDPAT, CRCValid: true, PAT: pat})

	base := m.now().Add(pmtAbsenceThreshold + time.Millisecond)
	m.now = func() time.Time { return base }
	m.scan()

	found := false
	for _, a := range got {
		if a.Event == EventP1PMTError && a.Raised {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected EventP1PMTError raised after PMT absence, got %+v", got)
	}
}

func TestCATErrorSuppressedOnceCATSeen(t *testing.T) {
	m := newStoppedMonitor(t, Config{EventEnabled: map[EventID]bool{EventP2CATError: true}})
	var got []Alarm
	m.OnAlarm(func(batch []Alarm) { got = append(got, batch...) })

	m.Write(rawPacket(ts.CatPID, true, 0, []byte{1}))

	raw := make([]byte, ts.PacketSize)
	raw[0] = ts.SyncByte
	raw[1] = 0x01
	raw[2] = 0x00
	raw[3] = 0xd0 // scrambled with odd key (0b11), payload-only, cc=0
	for i := 4; i < ts.PacketSize; i++ {
		raw[i] = 0xff
	}
	var scrambled ts.Packet
	if err := scrambled.Parse(raw); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m.Write(&scrambled)
	m.scan()

	for _, a := range got {
		if a.Event == EventP2CATError && a.Raised {
			t.Fatalf("did not expect EventP2CATError once CAT has been observed: %+v", got)
		}
	}
}

func TestSummaryReportsAllEvents(t *testing.T) {
	m := newStoppedMonitor(t, Config{})
	summary := m.Summary()
	if len(summary) != int(eventMax) {
		t.Fatalf("got %d events, want %d", len(summary), int(eventMax))
	}
}
