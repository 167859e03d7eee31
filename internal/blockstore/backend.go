// Package blockstore stores IPLD values by content identifier.
//
// A Store encodes values with DAG-CBOR, derives their identifier and keeps
// the raw bytes in a Backend. Backends only move bytes; they do not hash or
// decode.
package blockstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
)

var (
	// ErrNotFound is returned when no block exists for an identifier.
	ErrNotFound = errors.New("block not found")
	// ErrBackendUnavailable is returned when the storage cannot be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrCorrupt is returned when stored bytes cannot be decoded or do not
	// match their identifier.
	ErrCorrupt = errors.New("corrupt block")
)

// Backend is raw block storage keyed by identifier.
type Backend interface {
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Put(ctx context.Context, id cid.Cid, data []byte) error
	Has(ctx context.Context, id cid.Cid) (bool, error)
	Close() error
}

// classify keeps taxonomy errors as they are and reports anything else as
// an unavailable backend.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrCorrupt) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
