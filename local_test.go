package zcomm

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestLocalCommSendRecv(t *testing.T) {
	hub := NewLocalHub()
	recv := hub.NewComm(CommConfig{Direction: Recv, Timeout: time.Second})
	require.NoError(t, recv.Open())
	defer recv.Close()
	require.Contains(t, recv.Address(), localScheme)
	require.True(t, hub.Bound(recv.Address()))

	send := hub.NewComm(CommConfig{Direction: Send, Address: recv.Address()})
	require.NoError(t, send.Open())
	defer send.Close()

	m := NewMessage([]byte("hi"))
	m.Set("k", "v")
	require.NoError(t, send.Send(m))
	// the receiver gets a copy
	m.Set("k", "changed")

	got, err := recv.Recv()
	require.NoError(t, err)
	require.Equal(t, "hi", string(got.Payload))
	require.Equal(t, "v", got.Get("k"))
}

func TestLocalCommLifecycle(t *testing.T) {
	hub := NewLocalHub()
	recv := hub.NewComm(CommConfig{Direction: Recv, Address: "local://fixed"})

	_, err := recv.Recv()
	require.True(t, errors.Is(err, ErrCommNotOpen))
	require.False(t, recv.IsOpen())

	require.NoError(t, recv.Open())
	require.NoError(t, recv.Open())
	require.True(t, recv.IsOpen())
	require.Equal(t, "local://fixed", recv.Address())

	dup := hub.NewComm(CommConfig{Direction: Recv, Address: "local://fixed"})
	require.Error(t, dup.Open())

	require.NoError(t, recv.Close())
	require.NoError(t, recv.Close())
	require.True(t, recv.IsClosed())
	require.False(t, hub.Bound("local://fixed"))
	require.True(t, errors.Is(recv.Open(), ErrCommClosed))

	_, err = recv.Recv()
	require.True(t, errors.Is(err, ErrCommClosed))
}

func TestLocalCommSendToNowhere(t *testing.T) {
	hub := NewLocalHub()
	send := hub.NewComm(CommConfig{Direction: Send, Address: "local://nobody"})
	require.NoError(t, send.Open())
	require.True(t, errors.Is(send.Send(NewMessage(nil)), ErrNoAddress))

	noAddr := hub.NewComm(CommConfig{Direction: Send})
	require.True(t, errors.Is(noAddr.Open(), ErrNoAddress))

	noDir := hub.NewComm(CommConfig{})
	require.True(t, errors.Is(noDir.Open(), ErrWrongDirection))
}

func TestLocalCommWrongDirection(t *testing.T) {
	hub := NewLocalHub()
	recv := hub.NewComm(CommConfig{Direction: Recv})
	require.NoError(t, recv.Open())
	defer recv.Close()
	require.True(t, errors.Is(recv.Send(NewMessage(nil)), ErrWrongDirection))

	send := hub.NewComm(CommConfig{Direction: Send, Address: recv.Address()})
	require.NoError(t, send.Open())
	_, err := send.Recv()
	require.True(t, errors.Is(err, ErrWrongDirection))
}

func TestLocalCommRecvTimeout(t *testing.T) {
	hub := NewLocalHub()
	recv := hub.NewComm(CommConfig{Direction: Recv, Timeout: 10 * time.Millisecond})
	require.NoError(t, recv.Open())
	defer recv.Close()

	start := time.Now()
	_, err := recv.Recv()
	require.True(t, errors.Is(err, ErrRecvTimeout))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestLocalCommCloseWakesRecv(t *testing.T) {
	hub := NewLocalHub()
	recv := hub.NewComm(CommConfig{Direction: Recv})
	require.NoError(t, recv.Open())

	done := make(chan error, 1)
	go func() {
		_, err := recv.Recv(WithoutTimeout())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, recv.Close())

	select {
	case err := <-done:
		require.True(t, errors.Is(err, ErrCommClosed))
	case <-time.After(time.Second):
		t.Fatal("recv still blocked after close")
	}
}

func TestLocalCommDrain(t *testing.T) {
	hub := NewLocalHub()
	recv := hub.NewComm(CommConfig{Direction: Recv})
	require.NoError(t, recv.Open())
	defer recv.Close()
	send := hub.NewComm(CommConfig{Direction: Send, Address: recv.Address()})
	require.NoError(t, send.Open())

	for i := 0; i < 3; i++ {
		require.NoError(t, send.Send(NewMessage(nil)))
	}
	require.Equal(t, 0, send.DrainMessages(Send))
	require.Equal(t, 3, recv.DrainMessages(Recv))
	require.Equal(t, 0, recv.DrainMessages(Recv))
}
