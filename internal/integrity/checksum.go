// Package integrity gives the debug build a way to fingerprint committed
// state without diffing raw stdout. It is grounded on the wire codec and
// checksum engine found elsewhere in the retrieved pack: msgpack for a
// stable binary encoding of the committed history, blake2b for the digest
// over that encoding.
package integrity

import (
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"
)

// Entry is one committed version of one variable at one site, the unit the
// checksum is computed over.
type Entry struct {
	Site  int
	Var   string
	Ts    int64
	Value int
}

type wireEntry struct {
	Site  int    `msgpack:"site"`
	Var   string `msgpack:"var"`
	Ts    int64  `msgpack:"ts"`
	Value int    `msgpack:"value"`
}

// Checksum encodes entries with msgpack and returns the hex blake2b-256
// digest of the encoding — a stable fingerprint two dumps can be compared
// by without transmitting or diffing the full history.
func Checksum(entries []Entry) (string, error) {
	wire := make([]wireEntry, len(entries))
	for i, e := range entries {
		wire[i] = wireEntry{Site: e.Site, Var: e.Var, Ts: e.Ts, Value: e.Value}
	}

	encoded, err := msgpack.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode snapshot entries: %w", err)
	}

	sum := blake2b.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
