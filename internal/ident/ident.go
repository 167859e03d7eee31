// Package ident derives and parses content identifiers.
//
// An identifier is a CIDv1 whose multihash is computed here from the block
// bytes, so the hash function in use is always one of the Hash constants.
package ident

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Codecs used for stored blocks.
const (
	DagCBOR = cid.DagCBOR
	Raw     = cid.Raw
)

var (
	ErrMalformedIdentifier = errors.New("malformed identifier")
	ErrUnsupportedHash     = errors.New("unsupported hash function")
	ErrDigestMismatch      = errors.New("digest mismatch")
)

// Hash is a multihash function code.
type Hash uint64

const (
	Blake2b256 Hash = mh.BLAKE2B_MIN + 31
	SHA2256    Hash = mh.SHA2_256
	Blake3     Hash = mh.BLAKE3
)

// DefaultHash is used when no hash function is configured.
const DefaultHash = Blake2b256

var hashNames = map[Hash]string{
	Blake2b256: "blake2b-256",
	SHA2256:    "sha2-256",
	Blake3:     "blake3",
}

func (h Hash) String() string {
	if name, ok := hashNames[h]; ok {
		return name
	}
	return fmt.Sprintf("hash(0x%x)", uint64(h))
}

// ParseHash maps a configuration name to a Hash. Names are case-insensitive.
func ParseHash(name string) (Hash, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultHash, nil
	}
	for h, n := range hashNames {
		if n == name {
			return h, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedHash, name)
}

func (h Hash) digest(data []byte) ([]byte, error) {
	switch h {
	case Blake2b256:
		d := blake2b.Sum256(data)
		return d[:], nil
	case SHA2256:
		d := sha256.Sum256(data)
		return d[:], nil
	case Blake3:
		d := blake3.Sum256(data)
		return d[:], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, h)
}

// Sum returns the CIDv1 of data under codec using hash h.
func Sum(h Hash, codec uint64, data []byte) (cid.Cid, error) {
	d, err := h.digest(data)
	if err != nil {
		return cid.Undef, err
	}
	m, err := mh.Encode(d, uint64(h))
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(codec, m), nil
}

// Parse decodes the canonical textual form of an identifier.
func Parse(text string) (cid.Cid, error) {
	if text == "" {
		return cid.Undef, fmt.Errorf("%w: empty string", ErrMalformedIdentifier)
	}
	c, err := cid.Decode(text)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %q: %v", ErrMalformedIdentifier, text, err)
	}
	return c, nil
}

// FromBytes decodes the binary form of an identifier.
func FromBytes(b []byte) (cid.Cid, error) {
	c, err := cid.Cast(b)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrMalformedIdentifier, err)
	}
	return c, nil
}

// HashOf reports the hash function id was built with.
func HashOf(id cid.Cid) (Hash, error) {
	decoded, err := mh.Decode(id.Hash())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedIdentifier, err)
	}
	h := Hash(decoded.Code)
	if _, ok := hashNames[h]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedHash, h)
	}
	return h, nil
}

// Verify recomputes the digest of data with the hash function of id.
func Verify(id cid.Cid, data []byte) error {
	h, err := HashOf(id)
	if err != nil {
		return err
	}
	decoded, err := mh.Decode(id.Hash())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedIdentifier, err)
	}
	d, err := h.digest(data)
	if err != nil {
		return err
	}
	if !bytes.Equal(decoded.Digest, d) {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, id)
	}
	return nil
}
