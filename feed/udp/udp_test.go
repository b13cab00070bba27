//go:build linux

package udp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// receiveEventually polls s until at least want buffers arrived.
func receiveEventually(t *testing.T, s *Source, want int) [][]byte {
	t.Helper()
	var got [][]byte
	require.Eventually(t, func() bool {
		bufs, err := s.Receive()
		assert.NoError(t, err)
		got = append(got, bufs...)
		return len(got) >= want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func send(t *testing.T, addr string, pkts ...[]byte) {
	t.Helper()
	c, err := net.Dial("udp4", addr)
	require.NoError(t, err)
	defer c.Close()
	for _, p := range pkts {
		_, err := c.Write(p)
		require.NoError(t, err)
	}
}

func TestRawSourceReceivesDatagrams(t *testing.T) {
	s, err := Listen("127.0.0.1:0", FormatRaw, 1, nil)
	require.NoError(t, err)
	defer s.Close()

	bufs, err := s.Receive()
	require.NoError(t, err)
	assert.Empty(t, bufs, "nothing pending")

	send(t, s.Addr(), []byte{1, 2, 3}, []byte{4})
	got := receiveEventually(t, s, 2)
	assert.Equal(t, [][]byte{{1, 2, 3}, {4}}, got)
}

func TestReceiveBoundsBatch(t *testing.T) {
	s, err := Listen("127.0.0.1:0", FormatRaw, 1, nil)
	require.NoError(t, err)
	defer s.Close()

	const total = maxBatch + 10
	pkts := make([][]byte, total)
	for i := range pkts {
		pkts[i] = []byte{byte(i)}
	}
	send(t, s.Addr(), pkts...)

	var (
		got     [][]byte
		largest int
	)
	require.Eventually(t, func() bool {
		bufs, err := s.Receive()
		assert.NoError(t, err)
		largest = max(largest, len(bufs))
		got = append(got, bufs...)
		return len(got) >= total
	}, 2*time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, largest, maxBatch)
	assert.Equal(t, pkts, got)
}

func TestArtNetSourceFiltersUniverse(t *testing.T) {
	s, err := Listen("127.0.0.1:0", FormatArtNet, 3, nil)
	require.NoError(t, err)
	defer s.Close()

	other, err := AppendArtDmx(nil, 4, 0, []byte{9, 9})
	require.NoError(t, err)
	mine, err := AppendArtDmx(nil, 3, 1, []byte{7, 8})
	require.NoError(t, err)

	send(t, s.Addr(), other, []byte("garbage"), mine)
	got := receiveEventually(t, s, 1)
	assert.Equal(t, [][]byte{{7, 8}}, got)
}

func TestListenRejectsBadAddress(t *testing.T) {
	for _, addr := range []string{"", "localhost", "[::1]:6454", "127.0.0.1:99999"} {
		_, err := Listen(addr, FormatRaw, 1, nil)
		assert.Error(t, err, addr)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := Listen("127.0.0.1:0", FormatRaw, 1, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, -1, s.FD())
}
