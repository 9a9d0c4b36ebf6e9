package pes

import "testing"

func TestPacketRoundTripNoTimestamps(t *testing.T) {
	p := &Packet{StreamID: 0xE0, Data: []byte{1, 2, 3, 4}}
	b := p.Bytes(nil)
	got, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.StreamID != 0xE0 {
		t.Errorf("got stream id %x", got.StreamID)
	}
	if string(got.Data) != string(p.Data) {
		t.Errorf("got data %v want %v", got.Data, p.Data)
	}
}

func TestPacketRoundTripWithPTS(t *testing.T) {
	p := &Packet{
		StreamID: 0xE0,
		HasPTS:   true,
		PTS:      12345678,
		Data:     []byte{0xaa, 0xbb},
	}
	p.HeaderLength = 5
	b := p.Bytes(nil)
	got, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !got.HasPTS || got.PTS != p.PTS {
		t.Errorf("got PTS %d want %d (hasPTS=%v)", got.PTS, p.PTS, got.HasPTS)
	}
	if got.HasDTS {
		t.Errorf("unexpected DTS")
	}
	if string(got.Data) != string(p.Data) {
		t.Errorf("got data %v want %v", got.Data, p.Data)
	}
}

func TestPacketRoundTripWithPTSAndDTS(t *testing.T) {
	p := &Packet{
		StreamID: 0xE0,
		HasPTS:   true,
		HasDTS:   true,
		PTS:      8589934591, // max 33-bit value
		DTS:      1,
		Data:     []byte{0x01},
	}
	p.HeaderLength = 10
	b := p.Bytes(nil)
	got, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.PTS != p.PTS || got.DTS != p.DTS {
		t.Errorf("got PTS=%d DTS=%d want PTS=%d DTS=%d", got.PTS, got.DTS, p.PTS, p.DTS)
	}
}

func TestParseRejectsMissingStartCode(t *testing.T) {
	_, err := Parse([]byte{0x00, 0x00, 0x00, 0xE0, 0x00, 0x00})
	if err != ErrNoStartCode {
		t.Errorf("got %v want ErrNoStartCode", err)
	}
}

func TestIsAudioOrPrivate(t *testing.T) {
	cases := map[byte]bool{
		0xBD: true,
		0xC0: true,
		0xDF: true,
		0xE0: false,
		0xBC: false,
	}
	for id, want := range cases {
		if got := IsAudioOrPrivate(id); got != want {
			t.Errorf("IsAudioOrPrivate(%x) = %v, want %v", id, got, want)
		}
	}
}
