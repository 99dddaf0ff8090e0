package security

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filemesh/filemesh/pkg/models"
)

func TestSHA256VerifierRoundTrip(t *testing.T) {
	v := NewSHA256Verifier()
	data := []byte("hello world")
	sum := v.Sum(data)

	require.Equal(t, models.ChecksumAlgorithmSHA256, sum.Algorithm)
	require.True(t, v.Verify(data, sum))
	require.False(t, v.Verify([]byte("other"), sum))
}

func TestSHA256VerifierRejectsOtherAlgorithm(t *testing.T) {
	v := NewSHA256Verifier()
	bogus := models.Checksum{Bytes: []byte{1, 2, 3}, Algorithm: "md5"}
	require.False(t, v.Verify([]byte("data"), bogus))
}
