package zcomm

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestEndpointJSON(t *testing.T) {
	e := Endpoint{Service: "echo", NodeID: "n1", Kind: "zmq", Address: "tcp://127.0.0.1:4000"}
	b, err := e.Marshal()
	require.NoError(t, err)
	require.JSONEq(t, `{"service":"echo","nodeid":"n1","kind":"zmq","address":"tcp://127.0.0.1:4000"}`, string(b))

	got, err := UnmarshalEndpoint(b)
	require.NoError(t, err)
	require.Equal(t, e, got)

	_, err = UnmarshalEndpoint([]byte("{"))
	require.Error(t, err)
}

func TestRegistryConfigKey(t *testing.T) {
	cnf := &RegistryConfig{}
	require.Equal(t, "zcomm/echo", cnf.key("echo"))
	cnf.ServicePrefix = "/apps/"
	require.Equal(t, "apps/echo", cnf.key("echo"))

	cnf.setDefaults()
	require.NotNil(t, cnf.Logger)
	require.Positive(t, cnf.HeartBeatPeriod)
}

func TestStaticAddressBook(t *testing.T) {
	ctx := context.Background()
	book := NewStaticAddressBook(Endpoint{Service: "a", Address: "local://a"})

	e, err := book.Resolve(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "local://a", e.Address)

	_, err = book.Resolve(ctx, "b")
	require.True(t, errors.Is(err, ErrEndpointNotFound))

	require.Error(t, book.Publish(ctx, Endpoint{Address: "local://x"}))
	require.NoError(t, book.Publish(ctx, Endpoint{Service: "a", Address: "local://a2"}))
	e, err = book.Resolve(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "local://a2", e.Address)

	require.NoError(t, book.Unpublish(ctx, "a"))
	_, err = book.Resolve(ctx, "a")
	require.True(t, errors.Is(err, ErrEndpointNotFound))
	require.NoError(t, book.Close())
}
