// Package blockcrc computes the CRC-32 trailer carried by every 4096-byte
// disk block.
//
// Sum runs the reflected IEEE polynomial (0x04C11DB7) through crc32.Update
// seeded with 0xFFFFFFFF and xors the result with 0xFFFFFFFF. Since
// crc32.Update already inverts on entry and exit, these two inversions
// cancel it out: the result is the reflected CRC with a zero initial
// remainder and no final xor, not the standard CRC-32 ("123456789" sums to
// 0x2DFD2D88, not 0xCBF43926). The trailer is stored little-endian in the
// last four bytes of a block; a sealed block checksums to zero when the
// full 4096 bytes are run through Sum.
package blockcrc

import "hash/crc32"

const initRem = 0xFFFFFFFF

// Sum returns the checksum of data.
func Sum(data []byte) uint32 {
	return crc32.Update(initRem, crc32.IEEETable, data) ^ initRem
}

// PutLE writes the low n bytes of v into buf little-endian.
func PutLE(v uint32, buf []byte, n int) {
	for i := 0; i < n; i++ {
		buf[i] = byte(v)
		v >>= 8
	}
}

// SealPage computes the checksum of the first len(page)-4 bytes and
// stores it little-endian in the last four.
func SealPage(page []byte) {
	crc := Sum(page[:len(page)-4])
	PutLE(crc, page[len(page)-4:], 4)
}

// VerifyPage reports whether the little-endian trailer of page matches
// the checksum of the bytes before it.
func VerifyPage(page []byte) bool {
	want := Sum(page[:len(page)-4])
	tail := page[len(page)-4:]
	got := uint32(tail[0]) | uint32(tail[1])<<8 | uint32(tail[2])<<16 | uint32(tail[3])<<24

	return got == want
}
