/*
NAME
  crc.go

DESCRIPTION
  crc.go implements the MPEG-2 variant of CRC-32 used to verify and stamp
  every PSI section: polynomial 0x04C11DB7, MSB-first, initial value
  0xFFFFFFFF, no final XOR.

AUTHOR
  Dan Kortschak <dan@ausocean.org>
  Saxon Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package psi

import (
	"encoding/binary"
	"hash/crc32"
	"math/bits"
)

var mpeg2Table = makeTable(bits.Reverse32(crc32.IEEE))

// CRC32 computes the MPEG-2 CRC-32 over b (table_id through the last byte
// before the trailing 4-byte CRC).
func CRC32(b []byte) uint32 {
	return update(0xffffffff, mpeg2Table, b)
}

// VerifyCRC reports whether the last 4 bytes of section (big-endian) equal
// the MPEG-2 CRC-32 computed over everything preceding them. section must
// include the trailing CRC.
func VerifyCRC(section []byte) bool {
	if len(section) < 4 {
		return false
	}
	want := binary.BigEndian.Uint32(section[len(section)-4:])
	got := CRC32(section[:len(section)-4])
	return got == want
}

// AddCRC appends the computed CRC-32 to out, returning a new slice.
func AddCRC(out []byte) []byte {
	t := make([]byte, len(out)+4)
	copy(t, out)
	UpdateCRC(t)
	return t
}

// UpdateCRC recomputes and overwrites the trailing 4-byte CRC of b in
// place.
func UpdateCRC(b []byte) {
	crc := CRC32(b[:len(b)-4])
	binary.BigEndian.PutUint32(b[len(b)-4:], crc)
}

func makeTable(poly uint32) *crc32.Table {
	var t crc32.Table
	for i := range t {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return &t
}

func update(crc uint32, tab *crc32.Table, p []byte) uint32 {
	for _, v := range p {
		crc = tab[byte(crc>>24)^v] ^ (crc << 8)
	}
	return crc
}
