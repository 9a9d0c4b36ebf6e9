package ts

import "testing"

func TestEncodeDecodePCRRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 300, 1<<33*300 - 1, 123456789012}
	var b [6]byte
	for _, scr := range cases {
		EncodePCR(scr, b[:])
		got := DecodePCR(b[:])
		if got != scr {
			t.Errorf("EncodePCR/DecodePCR(%d): got %d", scr, got)
		}
	}
}

func TestPCRDiffNoWrap(t *testing.T) {
	if d := PCRDiff(100, 150); d != 50 {
		t.Errorf("got %d want 50", d)
	}
}

func TestPCRDiffWrap(t *testing.T) {
	from := PCRWrap - 10
	to := uint64(5)
	if d := PCRDiff(from, to); d != 15 {
		t.Errorf("got %d want 15", d)
	}
}

func TestPCRDiffSymmetrySumsToWrap(t *testing.T) {
	a, b := uint64(1000), uint64(2000)
	sum := PCRDiff(a, b) + PCRDiff(b, a)
	if sum != PCRWrap {
		t.Errorf("pcr_diff(a,b)+pcr_diff(b,a) = %d, want %d", sum, PCRWrap)
	}
}

func TestPacketParseAndAlign(t *testing.T) {
	buf := make([]byte, 3*PacketSize)
	for i := range buf {
		buf[i] = 0
	}
	buf[0] = SyncByte
	buf[PacketSize] = SyncByte
	buf[2*PacketSize] = SyncByte
	buf[1] = 0x40 // PUSI
	buf[2] = 0x20
	buf[3] = 0x10 // AFC=01 payload only, CC=0

	k, err := Align(buf)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if k != 0 {
		t.Fatalf("expected offset 0, got %d", k)
	}

	var p Packet
	if err := p.Parse(buf[:PacketSize]); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.PUSI {
		t.Errorf("expected PUSI set")
	}
	if p.PID != 0x20 {
		t.Errorf("got PID %x want 0x20", p.PID)
	}
	if !p.HasPayload() || p.HasAdaptationField() {
		t.Errorf("expected payload-only packet")
	}
}

func TestPacketParsePCR(t *testing.T) {
	buf := make([]byte, PacketSize)
	buf[0] = SyncByte
	buf[3] = 0x20 // AFC=10 adaptation-only
	buf[4] = 183  // adaptation field length fills the rest of the packet
	buf[5] = 0x10 // PCR flag set
	EncodePCR(27000000, buf[6:12])

	var p Packet
	if err := p.Parse(buf); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.HasPCR {
		t.Fatalf("expected HasPCR")
	}
	if p.PCR != 27000000 {
		t.Errorf("got PCR %d want 27000000", p.PCR)
	}
}
