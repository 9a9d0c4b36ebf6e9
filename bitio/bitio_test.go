package bitio

import "testing"

func TestWriteReadBits(t *testing.T) {
	buf := make([]byte, 4)
	w := NewWriter(buf)
	w.WriteBits(0x1, 1)
	w.WriteBits(0x2a, 6) // 101010
	w.WriteBits(0xff, 8)
	w.WriteBits(0x3, 2)
	w.Flush()
	if w.Overrun() {
		t.Fatalf("unexpected overrun")
	}

	r := NewReader(buf)
	if got := r.ReadBits(1); got != 0x1 {
		t.Errorf("bit 1: got %x want %x", got, 0x1)
	}
	if got := r.ReadBits(6); got != 0x2a {
		t.Errorf("bits 2-7: got %x want %x", got, 0x2a)
	}
	if got := r.ReadBits(8); got != 0xff {
		t.Errorf("byte: got %x want %x", got, 0xff)
	}
	if got := r.ReadBits(2); got != 0x3 {
		t.Errorf("tail bits: got %x want %x", got, 0x3)
	}
	if r.Overrun() {
		t.Fatalf("unexpected read overrun")
	}
}

func TestByteAlignedFastPath(t *testing.T) {
	buf := []byte{0xde, 0xad, 0xbe, 0xef}
	r := NewReader(buf)
	if got := r.ReadBits(8); got != 0xde {
		t.Errorf("got %x want 0xde", got)
	}
	if got := r.ReadBits(16); got != 0xadbe {
		t.Errorf("got %x want 0xadbe", got)
	}
}

func TestReadOverrunIsSticky(t *testing.T) {
	r := NewReader([]byte{0xff})
	r.ReadBits(8)
	r.ReadBits(1)
	if !r.Overrun() {
		t.Fatalf("expected overrun to be set")
	}
	r.ReadBits(1)
	if !r.Overrun() {
		t.Fatalf("overrun should remain set")
	}
}

func TestWriteOverrunIsSticky(t *testing.T) {
	w := NewWriter(make([]byte, 1))
	w.WriteBits(0xff, 8)
	w.WriteBit(1)
	if !w.Overrun() {
		t.Fatalf("expected overrun to be set")
	}
	w.WriteBit(1)
	if !w.Overrun() {
		t.Fatalf("overrun should remain set")
	}
}

func TestPeekBitsDoesNotConsume(t *testing.T) {
	r := NewReader([]byte{0xaa})
	peeked := r.PeekBits(4)
	read := r.ReadBits(4)
	if peeked != read {
		t.Errorf("peek %x != subsequent read %x", peeked, read)
	}
	if r.BitsRemaining() != 4 {
		t.Errorf("expected 4 bits remaining, got %d", r.BitsRemaining())
	}
}

func TestAlignToByte(t *testing.T) {
	r := NewReader([]byte{0xff, 0x0f})
	r.ReadBits(4)
	r.AlignToByte()
	if got := r.ReadBits(8); got != 0x0f {
		t.Errorf("got %x want 0x0f", got)
	}
}

func TestMove(t *testing.T) {
	src := NewReader([]byte{0b10110100})
	dstBuf := make([]byte, 1)
	dst := NewWriter(dstBuf)
	Move(dst, src, 8)
	dst.Flush()
	if dstBuf[0] != 0b10110100 {
		t.Errorf("got %08b want %08b", dstBuf[0], 0b10110100)
	}
}

func TestCopyBitsNonDestructive(t *testing.T) {
	src := NewReader([]byte{0xaa})
	dst := NewWriter(make([]byte, 1))
	CopyBits(dst, src, 4)
	if src.BitsRemaining() != 8 {
		t.Errorf("CopyBits must not advance src; remaining=%d", src.BitsRemaining())
	}
}
