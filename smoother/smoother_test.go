package smoother

import (
	"testing"

	"github.com/ausocean/tstools/ts"
)

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{PCRPID: 0, LatencyMS: 200}, func(Item) {}); err != ErrInvalidPID {
		t.Errorf("got %v want ErrInvalidPID", err)
	}
	if _, err := New(Config{PCRPID: 0x100, LatencyMS: 10}, func(Item) {}); err != ErrInvalidLatency {
		t.Errorf("got %v want ErrInvalidLatency", err)
	}
}

func TestEnqueueSequenceMonotonic(t *testing.T) {
	var got []Item
	done := make(chan struct{}, 64)
	s, err := New(Config{PCRPID: 0x100, LatencyMS: 50, Blocking: false}, func(item Item) {
		got = append(got, item)
		done <- struct{}{}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	buf := make([]byte, 0, 300*ts.PacketSize)
	pcr0 := uint64(1000 * 300)
	pcr1 := pcr0 + 40*27000 // 40ms later in 27MHz ticks

	for i := 0; i < 280; i++ {
		raw := make([]byte, ts.PacketSize)
		raw[0] = ts.SyncByte
		raw[1] = byte(0x100 >> 8)
		raw[2] = byte(0x100)
		raw[3] = 0x30 // adaptation + payload
		if i == 0 {
			raw[4] = 7
			raw[5] = 0x10
			ts.EncodePCR(pcr0, raw[6:12])
			for j := 12; j < ts.PacketSize; j++ {
				raw[j] = 0xff
			}
		} else if i == 279 {
			raw[4] = 7
			raw[5] = 0x10
			ts.EncodePCR(pcr1, raw[6:12])
			for j := 12; j < ts.PacketSize; j++ {
				raw[j] = 0xff
			}
		} else {
			raw[4] = 1
			raw[5] = 0x00
			for j := 6; j < ts.PacketSize; j++ {
				raw[j] = 0xff
			}
		}
		buf = append(buf, raw...)
	}

	if err := s.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for i := 0; i < 8; i++ {
		<-done
	}

	for i := 1; i < len(got); i++ {
		if got[i].Sequence != got[i-1].Sequence+1 {
			t.Fatalf("sequence gap at %d: %d -> %d", i, got[i-1].Sequence, got[i].Sequence)
		}
		if got[i].ScheduledUS < got[i-1].ScheduledUS {
			t.Fatalf("non-monotonic schedule at %d: %d -> %d", i, got[i-1].ScheduledUS, got[i].ScheduledUS)
		}
	}
}

// pcrTestPacket builds one raw TS packet on pid 0x100, optionally carrying
// pcr in its adaptation field.
func pcrTestPacket(pcr uint64, hasPCR bool) []byte {
	raw := make([]byte, ts.PacketSize)
	raw[0] = ts.SyncByte
	raw[1] = byte(0x100 >> 8)
	raw[2] = byte(0x100)
	raw[3] = 0x30 // adaptation + payload
	if hasPCR {
		raw[4] = 7
		raw[5] = 0x10
		ts.EncodePCR(pcr, raw[6:12])
		for j := 12; j < ts.PacketSize; j++ {
			raw[j] = 0xff
		}
	} else {
		raw[4] = 1
		raw[5] = 0x00
		for j := 6; j < ts.PacketSize; j++ {
			raw[j] = 0xff
		}
	}
	return raw
}

// TestEnqueueAcrossWriteBoundaryAccumulatesOffset exercises two correlated
// PCRs observed across separate Write() calls: the first Write delivers
// 100 packets with PCR0 at its very first packet, all of which stay staged
// since nothing before PCR0's offset can be trimmed, then a second Write
// delivers 180 more packets with PCR1 on its
// 80th packet (local offset 79*ts.PacketSize). The true packet count
// between the two PCRs is 179, not the 79 a smoother that forgets bytes
// consumed by the first Write would compute.
func TestEnqueueAcrossWriteBoundaryAccumulatesOffset(t *testing.T) {
	var got []Item
	done := make(chan struct{}, 256)
	s, err := New(Config{PCRPID: 0x100, LatencyMS: 50, Blocking: false}, func(item Item) {
		got = append(got, item)
		done <- struct{}{}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	pcr0 := uint64(1000 * 300)
	pcr1 := pcr0 + 60*27000 // 60ms later in 27MHz ticks

	var buf1 []byte
	for i := 0; i < 100; i++ {
		buf1 = append(buf1, pcrTestPacket(pcr0, i == 0)...)
	}
	if err := s.Write(buf1); err != nil {
		t.Fatalf("Write #1: %v", err)
	}

	var buf2 []byte
	for i := 0; i < 180; i++ {
		buf2 = append(buf2, pcrTestPacket(pcr1, i == 79)...)
	}
	if err := s.Write(buf2); err != nil {
		t.Fatalf("Write #2: %v", err)
	}

	const wantPackets = 179
	wantChunks := (wantPackets + maxPacketsPerChunk - 1) / maxPacketsPerChunk
	for i := 0; i < wantChunks; i++ {
		<-done
	}

	var totalBytes int
	for _, item := range got {
		totalBytes += len(item.Payload)
	}
	if want := wantPackets * ts.PacketSize; totalBytes != want {
		t.Fatalf("got %d total bytes scheduled across the PCR boundary, want %d (packets miscounted across Write() calls)", totalBytes, want)
	}
}

func TestStatsReadable(t *testing.T) {
	s, err := New(Config{PCRPID: 0x100, LatencyMS: 50}, func(Item) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	stats := s.Stats()
	if stats.ItemsAllocated != 0 {
		t.Errorf("got %d items allocated before any write, want 0", stats.ItemsAllocated)
	}
}
