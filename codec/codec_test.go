package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hedronos/roottask/domain"
)

func TestStoreLoadRoundTrip(t *testing.T) {
	b := NewBuffer()

	req := &domain.FsRequest{
		Op:    domain.FsOpWrite,
		FD:    3,
		Data:  []byte("hello"),
		Path:  "/a",
		Flags: domain.O_WRONLY,
	}
	require.NoError(t, b.Store(req))

	tag, err := b.PeekTag()
	require.NoError(t, err)
	require.Equal(t, domain.TagFsRequest, tag)

	var got domain.FsRequest
	require.NoError(t, b.Load(&got))
	require.Equal(t, *req, got)
}

func TestLoadTypeMismatch(t *testing.T) {
	b := NewBuffer()
	require.NoError(t, b.Store(&domain.EchoMessage{Data: []byte("x")}))

	var resp domain.FsResponse
	err := b.Load(&resp)
	require.ErrorIs(t, err, domain.ErrDecodeTypeMismatch)
}

func TestStoreTooLarge(t *testing.T) {
	b := NewBuffer()
	big := &domain.EchoMessage{Data: []byte(strings.Repeat("x", domain.MessageBufferSize*2))}
	err := b.Store(big)
	require.ErrorIs(t, err, domain.ErrEncodingTooLarge)
}

func TestLoadTruncated(t *testing.T) {
	raw := []byte{byte(domain.TagEcho), 0xff, 0xff, 0xff, 0xff}
	var msg domain.EchoMessage
	err := LoadFrom(raw, &msg)
	require.ErrorIs(t, err, domain.ErrDecodeTruncated)
}

func TestResetAllowsReuse(t *testing.T) {
	b := NewBuffer()
	require.NoError(t, b.Store(&domain.EchoMessage{Data: []byte("a")}))
	b.Reset()
	require.NoError(t, b.Store(&domain.FsResponse{Op: domain.FsOpRead, N: 2}))

	var resp domain.FsResponse
	require.NoError(t, b.Load(&resp))
	require.Equal(t, int32(2), resp.N)
}
