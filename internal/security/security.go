// Package security defines the contracts for two external collaborators
// the core transfer engine leans on but does not implement: key
// exchange/encryption and the checksum library. Only the checksum side
// ships a concrete adapter (SHA-256); key exchange is interface-only,
// left to whatever encryption service wraps this engine.
package security

import (
	"crypto/sha256"

	"github.com/filemesh/filemesh/pkg/models"
)

// KeyExchanger negotiates session key material with a remote node before a
// Session is considered trusted. The framed session layer does not call
// this; it is a contract for an encryption service layered on top.
type KeyExchanger interface {
	// Negotiate performs a key exchange with peerNodeID and returns an
	// opaque session key handle.
	Negotiate(peerNodeID models.NodeID) (sessionKey []byte, err error)
}

// ChecksumVerifier computes and verifies checksums for file and chunk
// bytes. The default adapter below covers models.ChecksumAlgorithmSHA256;
// a stronger or hardware-accelerated implementation can satisfy the same
// interface without touching callers.
type ChecksumVerifier interface {
	Algorithm() models.ChecksumAlgorithm
	Sum(data []byte) models.Checksum
	Verify(data []byte, want models.Checksum) bool
}

// sha256Verifier is the default ChecksumVerifier.
type sha256Verifier struct{}

// NewSHA256Verifier returns the default ChecksumVerifier.
func NewSHA256Verifier() ChecksumVerifier {
	return sha256Verifier{}
}

func (sha256Verifier) Algorithm() models.ChecksumAlgorithm {
	return models.ChecksumAlgorithmSHA256
}

func (sha256Verifier) Sum(data []byte) models.Checksum {
	sum := sha256.Sum256(data)
	return models.Checksum{Bytes: sum[:], Algorithm: models.ChecksumAlgorithmSHA256}
}

func (v sha256Verifier) Verify(data []byte, want models.Checksum) bool {
	if want.Algorithm != models.ChecksumAlgorithmSHA256 {
		return false
	}
	got := v.Sum(data)
	if len(got.Bytes) != len(want.Bytes) {
		return false
	}
	for i := range got.Bytes {
		if got.Bytes[i] != want.Bytes[i] {
			return false
		}
	}
	return true
}
