package wire

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/filemesh/filemesh/pkg/models"
	"github.com/filemesh/filemesh/pkg/protocol"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	starts []models.FileID
	chunks []models.ChunkID
}

func (f *fakeDispatcher) StartTransfer(_ context.Context, fileID models.FileID, _ models.FileMeta, _ *models.NodeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, fileID)
	return nil
}

func (f *fakeDispatcher) StoreChunk(_ context.Context, chunkID models.ChunkID, _ []byte, _ *models.NodeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunkID)
	return nil
}

func (f *fakeDispatcher) snapshot() ([]models.FileID, []models.ChunkID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.FileID(nil), f.starts...), append([]models.ChunkID(nil), f.chunks...)
}

func TestHandshakeRecordsRemoteNodeID(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	disp := &fakeDispatcher{}
	reg := NewRegistry("server-node", disp, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.Accept(ctx, serverConn)

	// Drain the server's own hello sent to the client side.
	_, err := protocol.ReadFrame(clientConn)
	require.NoError(t, err)

	clientSession := &Session{Local: "client-node", conn: clientConn, connectedAt: time.Now()}
	require.NoError(t, clientSession.Send(protocol.NewHello("client-node")))

	require.Eventually(t, func() bool {
		_, ok := reg.Get("client-node")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestFileInitDispatchesStartTransfer(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	disp := &fakeDispatcher{}
	reg := NewRegistry("server-node", disp, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.Accept(ctx, serverConn)

	_, err := protocol.ReadFrame(clientConn) // drain server hello
	require.NoError(t, err)

	clientSession := &Session{Local: "client-node", conn: clientConn, connectedAt: time.Now()}
	fi := protocol.FileInit{
		Type:              protocol.TypeFileInit,
		FileID:            "f1",
		FileName:          "a.bin",
		FileSize:          100,
		ChunkSize:         4096,
		SourceNodeID:      "client-node",
		Checksum:          []byte{1, 2, 3},
		ChecksumAlgorithm: "sha256",
	}
	require.NoError(t, clientSession.Send(fi))

	require.Eventually(t, func() bool {
		starts, _ := disp.snapshot()
		return len(starts) == 1 && starts[0] == "f1"
	}, time.Second, 10*time.Millisecond)
}

func TestFileChunkDispatchesStoreChunk(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	disp := &fakeDispatcher{}
	reg := NewRegistry("server-node", disp, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.Accept(ctx, serverConn)

	_, err := protocol.ReadFrame(clientConn)
	require.NoError(t, err)

	clientSession := &Session{Local: "client-node", conn: clientConn, connectedAt: time.Now()}
	fc := protocol.FileChunk{
		Type:         protocol.TypeFileChunk,
		FileID:       "f1",
		Offset:       0,
		SourceNodeID: "client-node",
		Data:         []byte("chunk bytes"),
	}
	require.NoError(t, clientSession.Send(fc))

	require.Eventually(t, func() bool {
		_, chunks := disp.snapshot()
		return len(chunks) == 1 && chunks[0] == models.ChunkID{FileID: "f1", Offset: 0}
	}, time.Second, 10*time.Millisecond)
}

func TestUnknownEnvelopeTypeIsIgnoredNotFatal(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	disp := &fakeDispatcher{}
	reg := NewRegistry("server-node", disp, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.Accept(ctx, serverConn)

	_, err := protocol.ReadFrame(clientConn)
	require.NoError(t, err)

	clientSession := &Session{Local: "client-node", conn: clientConn, connectedAt: time.Now()}
	require.NoError(t, protocol.WriteFrame(clientConn, []byte(`{"type":"mystery"}`)))

	// Session should still accept a subsequent, well-formed hello.
	require.NoError(t, clientSession.Send(protocol.NewHello("client-node")))
	require.Eventually(t, func() bool {
		_, ok := reg.Get("client-node")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestMalformedFrameTerminatesSession(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	disp := &fakeDispatcher{}
	reg := NewRegistry("server-node", disp, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.Accept(ctx, serverConn)

	_, err := protocol.ReadFrame(clientConn)
	require.NoError(t, err)

	// A zero-length frame prefix is invalid per §4.4 and must close the
	// session without affecting anything else.
	_, err = clientConn.Write([]byte{0, 0, 0, 0})
	require.NoError(t, err)

	// The server closes its end, so a further read on the client fails.
	_, err = clientConn.Read(make([]byte, 1))
	require.Error(t, err)
	clientConn.Close()
}
