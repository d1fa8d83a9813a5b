package util

import (
	"encoding/binary"
	"hash/maphash"
	"io"

	"github.com/spaolacci/murmur3"
)

var memSeed = maphash.MakeSeed()

// MemHash hashes buf with the runtime hasher behind maphash (aeshash if the
// aes instruction is available).
// NOTE: The hash seed changes for every process. So, this cannot be used as a persistent hash.
func MemHash(buf []byte) uint64 {
	return maphash.Bytes(memSeed, buf)
}

// MemHashString is MemHash for strings.
func MemHashString(s string) uint64 {
	return maphash.String(memSeed, s)
}

// Murmur64 returns the low 64 bits of murmur3 x64_128 over buf. Stable across processes.
func Murmur64(buf []byte) uint64 {
	return murmur3.Sum64(buf)
}

// Murmur64String is Murmur64 for strings, without copying s.
func Murmur64String(s string) uint64 {
	return murmur3.Sum64(StringToByte(s))
}

// Mix64 is the murmur3 fmix64 finalizer. Integer keys are usually dense, so
// they are mixed before their low bits pick a bucket.
func Mix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}

type Murmur128 struct {
	mur murmur3.Hash128
}

func NewMurmur128() *Murmur128 {
	return &Murmur128{mur: murmur3.New128()}
}

func (m *Murmur128) Write(p []byte) error {
	n, err := m.mur.Write(p)
	if n != len(p) {
		return io.ErrShortWrite
	}
	return err
}

// EncodeSum128 returns both halves of the digest as uvarints.
func (m *Murmur128) EncodeSum128() []byte {
	buf := make([]byte, binary.MaxVarintLen64*2)
	s1, s2 := m.mur.Sum128()
	var index int
	index += binary.PutUvarint(buf[index:], s1)
	index += binary.PutUvarint(buf[index:], s2)
	return buf[:index]
}

func (m *Murmur128) Reset() {
	m.mur.Reset()
}
