// Package protocol implements the framed-session wire format: a uint32
// little-endian length prefix followed by UTF-8 JSON, and the tagged
// envelope set (hello, file_init, file_chunk) carried inside it.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameLength is the largest permitted frame length, inclusive. A
// length of 0 or greater than this terminates the session.
const MaxFrameLength = 50_000_000

// ReadFrame reads one length-prefixed frame from r: a 4-byte little-endian
// length followed by exactly that many bytes. It returns an error if the
// announced length is 0 or exceeds MaxFrameLength; callers should
// terminate the session on error.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length == 0 || length > MaxFrameLength {
		return nil, fmt.Errorf("frame length %d outside (0, %d]", length, MaxFrameLength)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload as one length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxFrameLength {
		return fmt.Errorf("frame length %d outside (0, %d]", len(payload), MaxFrameLength)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// EnvelopeType names the tagged message kinds carried in frames.
type EnvelopeType string

const (
	TypeHello     EnvelopeType = "hello"
	TypeFileInit  EnvelopeType = "file_init"
	TypeFileChunk EnvelopeType = "file_chunk"
)

// envelopeHeader is decoded first to learn the type tag before unmarshaling
// the rest of the message into its concrete shape.
type envelopeHeader struct {
	Type EnvelopeType `json:"type"`
}

// Hello announces a node's identity at session start.
type Hello struct {
	Type   EnvelopeType `json:"type"`
	NodeID string       `json:"nodeId"`
}

// NewHello builds a Hello envelope for nodeID.
func NewHello(nodeID string) Hello {
	return Hello{Type: TypeHello, NodeID: nodeID}
}

// FileInit announces a new incoming file transfer.
type FileInit struct {
	Type              EnvelopeType `json:"type"`
	FileID            string       `json:"fileId"`
	FileName          string       `json:"fileName"`
	FileSize          uint64       `json:"fileSize"`
	ChunkSize         uint32       `json:"chunkSize"`
	SourceNodeID      string       `json:"sourceNodeId"`
	Checksum          []byte       `json:"checksum"`
	ChecksumAlgorithm string       `json:"checksumAlgorithm"`
}

// FileChunk carries one chunk's bytes for an in-flight transfer.
type FileChunk struct {
	Type         EnvelopeType `json:"type"`
	FileID       string       `json:"fileId"`
	Offset       uint64       `json:"offset"`
	SourceNodeID string       `json:"sourceNodeId"`
	Data         []byte       `json:"data"`
}

// Message is the decoded result of DecodeEnvelope: exactly one of its
// fields is non-nil, selected by Type.
type Message struct {
	Type      EnvelopeType
	Hello     *Hello
	FileInit  *FileInit
	FileChunk *FileChunk
	// Raw is the original frame payload, kept so an unrecognized type can
	// be logged verbatim before being ignored.
	Raw []byte
}

// EncodeEnvelope marshals v (a Hello, FileInit, or FileChunk) to JSON.
// Byte slices (Checksum, Data) are base64-encoded by encoding/json per the
// wire format's byte-array convention.
func EncodeEnvelope(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeEnvelope decodes a frame payload into a Message. A JSON decode
// failure returns an error (caller terminates the session); an unknown
// "type" value is not an error — it is returned with Type set and all
// typed fields nil so the caller can log and ignore it.
func DecodeEnvelope(payload []byte) (Message, error) {
	var hdr envelopeHeader
	if err := json.Unmarshal(payload, &hdr); err != nil {
		return Message{}, fmt.Errorf("decode envelope header: %w", err)
	}

	msg := Message{Type: hdr.Type, Raw: payload}
	switch hdr.Type {
	case TypeHello:
		var h Hello
		if err := json.Unmarshal(payload, &h); err != nil {
			return Message{}, fmt.Errorf("decode hello: %w", err)
		}
		msg.Hello = &h
	case TypeFileInit:
		var fi FileInit
		if err := json.Unmarshal(payload, &fi); err != nil {
			return Message{}, fmt.Errorf("decode file_init: %w", err)
		}
		msg.FileInit = &fi
	case TypeFileChunk:
		var fc FileChunk
		if err := json.Unmarshal(payload, &fc); err != nil {
			return Message{}, fmt.Errorf("decode file_chunk: %w", err)
		}
		msg.FileChunk = &fc
	default:
		// Unknown type: valid JSON, unrecognized tag. Not an error.
	}
	return msg, nil
}
