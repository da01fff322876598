package zcomm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

var quietLogger = NewLogger(zapcore.ErrorLevel, "console")

type responderEnv struct {
	hub       *LocalHub
	factory   *Factory
	responder *Responder
	client    *LocalComm // 发往 responder
}

func newResponderEnv(t *testing.T, h Handler, opts ...Option) *responderEnv {
	hub := NewLocalHub()
	f := NewFactory()
	f.MustRegister(LocalKind, hub.Constructor())

	opts = append([]Option{WithFactory(f), WithLogger(quietLogger), WithPollInterval(10 * time.Millisecond)}, opts...)
	r, err := NewResponder(ServerConfig{Request: CommConfig{Kind: LocalKind}}, h, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	c := hub.NewComm(CommConfig{Direction: Send, Address: r.Address()})
	require.NoError(t, c.Open())
	return &responderEnv{hub: hub, factory: f, responder: r, client: c}
}

// request sends payload with a fresh reply address and returns the comm to read from.
func (env *responderEnv) request(t *testing.T, id, payload string) *LocalComm {
	reply := env.hub.NewComm(CommConfig{Direction: Recv, Timeout: time.Second})
	require.NoError(t, reply.Open())
	t.Cleanup(func() { reply.Close() })

	m := NewMessage([]byte(payload))
	RequestHeader{RequestID: id, ResponseAddress: reply.Address(), CallerTag: "t"}.Apply(m)
	require.NoError(t, env.client.Send(m))
	return reply
}

func echo(ctx context.Context, req *Message) (*Message, error) {
	return NewMessage(req.Payload), nil
}

func TestResponderAnswersOnHeaderAddress(t *testing.T) {
	env := newResponderEnv(t, echo)
	go env.responder.Serve(context.Background())

	r1 := env.request(t, "1", "one")
	r2 := env.request(t, "2", "two")

	rep, err := r2.Recv()
	require.NoError(t, err)
	require.Equal(t, "two", string(rep.Payload))
	require.Equal(t, "2", rep.Get(REQUESTID))

	rep, err = r1.Recv()
	require.NoError(t, err)
	require.Equal(t, "one", string(rep.Payload))
}

func TestResponderHandlerError(t *testing.T) {
	env := newResponderEnv(t, func(ctx context.Context, req *Message) (*Message, error) {
		return nil, errors.New("bad input")
	})
	go env.responder.Serve(context.Background())

	rep, err := env.request(t, "e", "x").Recv()
	require.NoError(t, err)
	require.EqualError(t, rep.Err(), "bad input")
	require.Equal(t, "e", rep.Get(REQUESTID))
}

func TestResponderOneWayAndEOF(t *testing.T) {
	var handled int32
	env := newResponderEnv(t, func(ctx context.Context, req *Message) (*Message, error) {
		atomic.AddInt32(&handled, 1)
		return nil, nil
	})
	done := make(chan error, 1)
	go func() { done <- env.responder.Serve(context.Background()) }()

	// no header: handled, nobody to answer
	require.NoError(t, env.client.Send(NewMessage([]byte("fire and forget"))))
	require.NoError(t, env.client.Send(EOFMessage()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not stop at end of stream")
	}
	require.NoError(t, env.responder.Close())
	require.Equal(t, int32(1), atomic.LoadInt32(&handled))
}

func TestResponderCloseStopsServe(t *testing.T) {
	env := newResponderEnv(t, echo)
	done := make(chan error, 1)
	go func() { done <- env.responder.Serve(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, env.responder.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve still running after close")
	}
	require.NoError(t, env.responder.Close())
	require.True(t, errors.Is(env.responder.Serve(context.Background()), ErrCommClosed))
}

func TestResponderContextStopsServe(t *testing.T) {
	env := newResponderEnv(t, echo)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.responder.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve ignored cancelled context")
	}
}

func TestResponderPublishesEndpoint(t *testing.T) {
	book := NewStaticAddressBook()
	env := newResponderEnv(t, echo, WithAddressBook(book, "echo"), WithNodeID("node-1"))

	e, err := book.Resolve(context.Background(), "echo")
	require.NoError(t, err)
	require.Equal(t, Endpoint{
		Service: "echo",
		NodeID:  "node-1",
		Kind:    LocalKind,
		Address: env.responder.Address(),
	}, e)

	require.NoError(t, env.responder.Close())
	_, err = book.Resolve(context.Background(), "echo")
	require.True(t, errors.Is(err, ErrEndpointNotFound))
}

func TestResponderHooks(t *testing.T) {
	var before, after int32
	env := newResponderEnv(t, echo,
		WithBeforeHandle(func(rh RequestHeader, req *Message) {
			if rh.RequestID == "h" {
				atomic.AddInt32(&before, 1)
			}
		}),
		WithAfterHandle(func(rh RequestHeader, req, rep *Message, err error) {
			if err == nil && string(rep.Payload) == "hooked" {
				atomic.AddInt32(&after, 1)
			}
		}))
	go env.responder.Serve(context.Background())

	_, err := env.request(t, "h", "hooked").Recv()
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&before))
	require.Equal(t, int32(1), atomic.LoadInt32(&after))
}

func TestNewResponderRequiresHandler(t *testing.T) {
	_, err := NewResponder(ServerConfig{Request: CommConfig{Kind: LocalKind}}, nil)
	require.Error(t, err)
}

func TestResponderServesAgainAfterEOF(t *testing.T) {
	env := newResponderEnv(t, echo)
	done := make(chan error, 1)
	go func() { done <- env.responder.Serve(context.Background()) }()

	require.NoError(t, env.client.Send(EOFMessage()))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not stop at end of stream")
	}

	go func() { done <- env.responder.Serve(context.Background()) }()
	rep, err := env.request(t, "again", "second round").Recv()
	require.NoError(t, err)
	require.Equal(t, "second round", string(rep.Payload))

	require.NoError(t, env.responder.Close())
	require.NoError(t, <-done)
}

func TestResponderServeTwiceConcurrently(t *testing.T) {
	env := newResponderEnv(t, echo)
	go env.responder.Serve(context.Background())

	// 等第一个 Serve 进入循环
	_, err := env.request(t, "warm", "up").Recv()
	require.NoError(t, err)
	require.EqualError(t, env.responder.Serve(context.Background()), "zcomm: responder is already serving")
}
