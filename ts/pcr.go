package ts

// PCR is a 42-bit composite clock: a 33-bit base running at 90 kHz plus a
// 9-bit extension, scaled so the whole value counts 27 MHz ticks
// (base*300 + extension). PCRWrap is the modulus at which it wraps.
const PCRWrap = (uint64(1) << 33) * 300

// pcrBaseBits and pcrExtBits are the widths of the base and extension
// fields; EncodePCR uses pcrBaseBits to mask the base.
const (
	pcrBaseBits = 33
	pcrExtBits  = 9
)

// DecodePCR reconstructs a PCR value from the 6-byte wire encoding found in
// an adaptation field: bits[0..32] are the base across bytes 0-3 and the
// high bit of byte 4; six reserved bits follow; bits[33..41] are the
// extension across the low bit of byte 4 and all of byte 5.
func DecodePCR(b []byte) uint64 {
	_ = b[5]
	base := uint64(b[0])<<25 | uint64(b[1])<<17 | uint64(b[2])<<9 | uint64(b[3])<<1 | uint64(b[4]>>7)
	ext := (uint64(b[4]&0x01) << 8) | uint64(b[5])
	return base*300 + ext
}

// EncodePCR writes scr (a 27 MHz composite PCR value) into the 6-byte wire
// encoding, setting the six reserved bits to 1 as required by the
// standard.
func EncodePCR(scr uint64, b []byte) {
	_ = b[5]
	base := (scr / 300) & ((uint64(1) << pcrBaseBits) - 1)
	ext := scr % 300

	b[0] = byte(base >> 25)
	b[1] = byte(base >> 17)
	b[2] = byte(base >> 9)
	b[3] = byte(base >> 1)
	b[4] = byte((base&0x1)<<7) | 0x7e | byte((ext>>8)&0x1)
	b[5] = byte(ext)
}

// PCRDiff returns the positive tick delta from "from" to "to", accounting
// for wraparound: it is always in [0, PCRWrap).
func PCRDiff(from, to uint64) uint64 {
	if to >= from {
		return to - from
	}
	return PCRWrap - from + to
}
