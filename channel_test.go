package ringnet_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rishav/ringnet"
	"github.com/rishav/ringnet/internal/selector"
)

func newPool(t *testing.T, size int) *selector.Pool {
	t.Helper()
	p, err := selector.NewPool(size)
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)
	return p
}

// TestTCPEcho covers spec §8 scenario S1: 1000 frames sent and echoed
// back in order.
func TestTCPEcho(t *testing.T) {
	pool := newPool(t, 2)
	cfg := ringnet.DefaultConfig()

	server := ringnet.NewChannel(pool, cfg)
	server.OnAccept(func(child *ringnet.MessageChannel) {
		go echoChild(child)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := server.Bind("127.0.0.1:0").Wait(ctx)
	require.NoError(t, err)

	client := ringnet.NewChannel(pool, cfg)
	_, err = client.Connect(server.Addr().String()).Wait(ctx)
	require.NoError(t, err)

	prov := client.GetOutputBuffer()
	frame := []byte{0x01, 0x02, 0x03, 0x04}
	const n = 1000

	go func() {
		for i := 0; i < n; i++ {
			seq, err := prov.Out.Acquire(context.Background())
			if err != nil {
				return
			}
			prov.Out.Get(seq).Set(frame)
			prov.Out.Release(seq)
		}
	}()

	received := 0
	cursor := int64(-1)
	for received < n {
		published, err := prov.In.WaitFor(ctx, cursor+1)
		require.NoError(t, err)
		for seq := cursor + 1; seq <= published; seq++ {
			require.Equal(t, frame, prov.In.Get(seq).Bytes())
			received++
		}
		cursor = published
		prov.In.Advance(cursor)
	}

	require.Equal(t, n, received)
}

// TestSelectorCancellation covers spec §8 scenario S4: closing the
// client resolves both channels' close futures within a bounded time.
func TestSelectorCancellation(t *testing.T) {
	pool := newPool(t, 1)
	cfg := ringnet.DefaultConfig()

	server := ringnet.NewChannel(pool, cfg)
	serverClosed := make(chan struct{})
	server.OnAccept(func(child *ringnet.MessageChannel) {
		child.OnClose(func(error) { close(serverClosed) })
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := server.Bind("127.0.0.1:0").Wait(ctx)
	require.NoError(t, err)

	client := ringnet.NewChannel(pool, cfg)
	_, err = client.Connect(server.Addr().String()).Wait(ctx)
	require.NoError(t, err)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer closeCancel()
	_, err = client.Close().Wait(closeCtx)
	require.NoError(t, err)

	select {
	case <-serverClosed:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("server onClose listener did not fire within 100ms")
	}
}

func echoChild(child *ringnet.MessageChannel) {
	prov := child.GetInputBuffer()
	ctx := context.Background()
	cursor := int64(-1)
	for {
		published, err := prov.In.WaitFor(ctx, cursor+1)
		if err != nil {
			return
		}
		for seq := cursor + 1; seq <= published; seq++ {
			data := append([]byte(nil), prov.In.Get(seq).Bytes()...)
			outSeq, err := prov.Out.Acquire(ctx)
			if err != nil {
				return
			}
			prov.Out.Get(outSeq).Set(data)
			prov.Out.Release(outSeq)
		}
		cursor = published
		prov.In.Advance(cursor)
	}
}
