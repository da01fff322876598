package zcomm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type memEtcdValue struct {
	value string
	lease clientv3.LeaseID
}

// memEtcd keeps keys attached to leases; expiring a lease drops its keys as etcd does.
type memEtcd struct {
	nextLease clientv3.LeaseID
	leases    map[clientv3.LeaseID]bool
	kv        map[string]memEtcdValue
	down      bool
	mutex     sync.Mutex
}

var errEtcdDown = errors.New("etcdserver: request timed out")

func newMemEtcd() *memEtcd {
	return &memEtcd{
		leases: make(map[clientv3.LeaseID]bool),
		kv:     make(map[string]memEtcdValue),
	}
}

func (m *memEtcd) Grant(_ context.Context, ttl int64) (clientv3.LeaseID, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.down {
		return 0, errEtcdDown
	}
	m.nextLease++
	m.leases[m.nextLease] = true
	return m.nextLease, nil
}

func (m *memEtcd) KeepAlive(_ context.Context, id clientv3.LeaseID) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.down {
		return errEtcdDown
	}
	if !m.leases[id] {
		return errors.New("etcdserver: requested lease not found")
	}
	return nil
}

func (m *memEtcd) Revoke(_ context.Context, id clientv3.LeaseID) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.expireLocked(id)
	return nil
}

func (m *memEtcd) expire(id clientv3.LeaseID) {
	m.mutex.Lock()
	m.expireLocked(id)
	m.mutex.Unlock()
}

func (m *memEtcd) expireLocked(id clientv3.LeaseID) {
	delete(m.leases, id)
	for k, v := range m.kv {
		if v.lease == id {
			delete(m.kv, k)
		}
	}
}

func (m *memEtcd) setDown(down bool) {
	m.mutex.Lock()
	m.down = down
	m.mutex.Unlock()
}

func (m *memEtcd) PutWithLease(_ context.Context, key, value string, id clientv3.LeaseID) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.down {
		return errEtcdDown
	}
	if !m.leases[id] {
		return errors.New("etcdserver: requested lease not found")
	}
	m.kv[key] = memEtcdValue{value: value, lease: id}
	return nil
}

func (m *memEtcd) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	v, ok := m.kv[key]
	return []byte(v.value), ok, nil
}

func (m *memEtcd) Delete(_ context.Context, key string) error {
	m.mutex.Lock()
	delete(m.kv, key)
	m.mutex.Unlock()
	return nil
}

func (m *memEtcd) Close() error { return nil }

func (m *memEtcd) leaseOf(key string) clientv3.LeaseID {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.kv[key].lease
}

func newTestEtcdBook(t *testing.T) (*etcdAddressBook, *memEtcd) {
	store := newMemEtcd()
	// 心跳周期足够长，续租由测试直接驱动
	book := newEtcdAddressBook(&RegistryConfig{HeartBeatPeriod: time.Hour, Logger: quietLogger}, store)
	t.Cleanup(func() { book.Close() })
	return book, store
}

func (eb *etcdAddressBook) current(service string) *publication {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	return eb.publications[service]
}

func TestEtcdAddressBookPublishResolve(t *testing.T) {
	ctx := context.Background()
	book, store := newTestEtcdBook(t)
	e := Endpoint{Service: "echo", NodeID: "n1", Kind: "zmq", Address: "tcp://127.0.0.1:4000"}

	require.NoError(t, book.Publish(ctx, e))
	got, err := book.Resolve(ctx, "echo")
	require.NoError(t, err)
	require.Equal(t, e, got)

	// 重新发布换新租约，旧租约撤销
	first := store.leaseOf("zcomm/echo")
	require.NoError(t, book.Publish(ctx, e))
	require.NotEqual(t, first, store.leaseOf("zcomm/echo"))
	require.NoError(t, store.KeepAlive(ctx, store.leaseOf("zcomm/echo")))
	require.Error(t, store.KeepAlive(ctx, first))

	require.NoError(t, book.Unpublish(ctx, "echo"))
	_, err = book.Resolve(ctx, "echo")
	require.True(t, errors.Is(err, ErrEndpointNotFound))
}

func TestEtcdAddressBookRepublishesAfterLeaseExpired(t *testing.T) {
	ctx := context.Background()
	book, store := newTestEtcdBook(t)
	e := Endpoint{Service: "echo", Kind: "zmq", Address: "tcp://127.0.0.1:4000"}
	require.NoError(t, book.Publish(ctx, e))
	p := book.current("echo")
	lost := p.lease

	// etcd 中断超过租期：续租失败，租约连同地址一起消失
	store.setDown(true)
	store.expire(lost)
	require.True(t, book.renew("echo", p))
	_, err := book.Resolve(ctx, "echo")
	require.True(t, errors.Is(err, ErrEndpointNotFound))

	// 恢复后下一次续租重新写入地址
	store.setDown(false)
	require.True(t, book.renew("echo", p))
	got, err := book.Resolve(ctx, "echo")
	require.NoError(t, err)
	require.Equal(t, e, got)
	require.NotEqual(t, lost, book.current("echo").lease)
	require.Equal(t, book.current("echo").lease, store.leaseOf("zcomm/echo"))

	// 之后的续租使用新租约
	require.True(t, book.renew("echo", p))
	require.Equal(t, book.current("echo").lease, store.leaseOf("zcomm/echo"))
}

func TestEtcdAddressBookRenewStopsAfterUnpublish(t *testing.T) {
	ctx := context.Background()
	book, store := newTestEtcdBook(t)
	require.NoError(t, book.Publish(ctx, Endpoint{Service: "echo", Address: "local://e"}))
	p := book.current("echo")

	require.NoError(t, book.Unpublish(ctx, "echo"))
	require.False(t, book.renew("echo", p))
	_, found, err := store.Get(ctx, "zcomm/echo")
	require.NoError(t, err)
	require.False(t, found)
}
