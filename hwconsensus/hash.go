package hwconsensus

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/cuda-data/CasperLabs/hwclock"
)

// Hash is an opaque block or message hash,
// stored as a string of raw bytes so it can key maps directly.
type Hash string

// MessageID computes the identifying hash of a message,
// covering every field that affects protocol state.
func MessageID(m Message) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b only errors on an oversized key; none is given.
		panic(err)
	}

	h.Write([]byte{byte(m.Kind)})
	h.Write([]byte(m.Era))
	writeTick(h, m.Round)
	h.Write(m.Creator)
	h.Write([]byte(m.Parent))
	for _, j := range m.Justifications {
		h.Write([]byte(j))
	}
	h.Write(m.AppState)

	return Hash(h.Sum(nil))
}

func writeTick(h interface{ Write([]byte) (int, error) }, t hwclock.Tick) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t))
	h.Write(buf[:])
}
