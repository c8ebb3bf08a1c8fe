// Package fingerprint computes stable digests of configuration structures so
// that expensive regeneration (rewrite rules, type schemas) only happens when
// the structure actually changed.
//
// Values are serialized with CBOR Core Deterministic Encoding (sorted map
// keys, smallest integer encoding), then hashed with keyed BLAKE3. The key is
// the domain name zero-padded to 32 bytes, so a route set and a type set that
// happen to serialize identically still produce different fingerprints.
package fingerprint

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// Domains used by starch. Changing one invalidates every persisted
// fingerprint in that domain.
const (
	Routes = "starch.routes"
	Types  = "starch.types"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("fingerprint: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("fingerprint: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically. The same logical value always
// produces the same bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data produced by Marshal into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Sum returns the hex-encoded keyed BLAKE3 digest of v's deterministic
// encoding under domain. Domain names longer than 32 bytes are rejected.
func Sum(domain string, v any) (string, error) {
	key, err := domainKey(domain)
	if err != nil {
		return "", err
	}
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: encoding %s: %w", domain, err)
	}
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		return "", fmt.Errorf("fingerprint: keyed hash: %w", err)
	}
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func domainKey(domain string) ([32]byte, error) {
	var key [32]byte
	if domain == "" || len(domain) > len(key) {
		return key, fmt.Errorf("fingerprint: domain %q must be 1-32 bytes", domain)
	}
	copy(key[:], domain)
	return key, nil
}
