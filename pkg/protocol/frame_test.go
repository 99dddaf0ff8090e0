package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hello := NewHello("node-1")
	payload, err := EncodeEnvelope(hello)
	require.NoError(t, err)
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)

	msg, err := DecodeEnvelope(got)
	require.NoError(t, err)
	require.Equal(t, TypeHello, msg.Type)
	require.Equal(t, "node-1", msg.Hello.NodeID)
}

func TestWriteFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	big := make([]byte, MaxFrameLength+1)
	require.Error(t, WriteFrame(&buf, big))
}

func TestWriteFrameRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, WriteFrame(&buf, nil))
}

func TestReadFrameRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	// Hand-craft a length prefix announcing more than MaxFrameLength.
	lenBuf := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(lenBuf)
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestDecodeEnvelopeUnknownTypeIsNotAnError(t *testing.T) {
	msg, err := DecodeEnvelope([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	require.Equal(t, EnvelopeType("ping"), msg.Type)
	require.Nil(t, msg.Hello)
	require.Nil(t, msg.FileInit)
	require.Nil(t, msg.FileChunk)
}

func TestDecodeEnvelopeMalformedJSONIsAnError(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{not json`))
	require.Error(t, err)
}

func TestFileInitRoundTrip(t *testing.T) {
	fi := FileInit{
		Type:              TypeFileInit,
		FileID:            "f1",
		FileName:          "a.bin",
		FileSize:          100,
		ChunkSize:         1024,
		SourceNodeID:      "node-1",
		Checksum:          []byte{1, 2, 3},
		ChecksumAlgorithm: "sha256",
	}
	payload, err := EncodeEnvelope(fi)
	require.NoError(t, err)

	msg, err := DecodeEnvelope(payload)
	require.NoError(t, err)
	require.NotNil(t, msg.FileInit)
	require.Equal(t, fi.FileID, msg.FileInit.FileID)
	require.Equal(t, fi.Checksum, msg.FileInit.Checksum)
}

func TestFileChunkRoundTrip(t *testing.T) {
	fc := FileChunk{
		Type:         TypeFileChunk,
		FileID:       "f1",
		Offset:       1024,
		SourceNodeID: "node-2",
		Data:         []byte("hello chunk"),
	}
	payload, err := EncodeEnvelope(fc)
	require.NoError(t, err)

	msg, err := DecodeEnvelope(payload)
	require.NoError(t, err)
	require.NotNil(t, msg.FileChunk)
	require.Equal(t, fc.Data, msg.FileChunk.Data)
	require.Equal(t, fc.Offset, msg.FileChunk.Offset)
}
