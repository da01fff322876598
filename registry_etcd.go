package zcomm

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var _ AddressBook = (*etcdAddressBook)(nil)

// etcdStore 地址簿用到的 etcd 操作
type etcdStore interface {
	Grant(ctx context.Context, ttl int64) (clientv3.LeaseID, error)
	KeepAlive(ctx context.Context, id clientv3.LeaseID) error
	Revoke(ctx context.Context, id clientv3.LeaseID) error
	PutWithLease(ctx context.Context, key, value string, id clientv3.LeaseID) error
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type etcdV3Store struct {
	client *clientv3.Client
}

func (s etcdV3Store) Grant(ctx context.Context, ttl int64) (clientv3.LeaseID, error) {
	resp, err := s.client.Grant(ctx, ttl)
	if err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (s etcdV3Store) KeepAlive(ctx context.Context, id clientv3.LeaseID) error {
	_, err := s.client.KeepAliveOnce(ctx, id)
	return err
}

func (s etcdV3Store) Revoke(ctx context.Context, id clientv3.LeaseID) error {
	_, err := s.client.Revoke(ctx, id)
	return err
}

func (s etcdV3Store) PutWithLease(ctx context.Context, key, value string, id clientv3.LeaseID) error {
	_, err := s.client.Put(ctx, key, value, clientv3.WithLease(id))
	return err
}

func (s etcdV3Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	result, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if len(result.Kvs) == 0 {
		return nil, false, nil
	}
	return result.Kvs[0].Value, true, nil
}

func (s etcdV3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.Delete(ctx, key)
	return err
}

func (s etcdV3Store) Close() error {
	return s.client.Close()
}

// publication 一次发布：地址与当前租约
type publication struct {
	key   string
	value string
	lease clientv3.LeaseID
}

type etcdAddressBook struct {
	ctx    context.Context
	cancel context.CancelFunc

	cnf          *RegistryConfig
	store        etcdStore
	publications map[string]*publication // service:publication
	mutex        sync.Mutex
}

// NewEtcdAddressBook 使用 etcd 保存服务地址，发布的地址带租约，进程退出后自动过期
func NewEtcdAddressBook(cnf *RegistryConfig) (AddressBook, error) {
	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   cnf.Registries,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "zcomm: etcd client")
	}
	return newEtcdAddressBook(cnf, etcdV3Store{client: etcdClient}), nil
}

func newEtcdAddressBook(cnf *RegistryConfig, store etcdStore) *etcdAddressBook {
	cnf.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &etcdAddressBook{
		ctx:          ctx,
		cancel:       cancel,
		cnf:          cnf,
		store:        store,
		publications: make(map[string]*publication),
	}
}

func (eb *etcdAddressBook) ttl() int64 {
	return int64(eb.cnf.HeartBeatPeriod.Seconds()) + 3
}

// register 申请新租约并以该租约写入地址
func (eb *etcdAddressBook) register(ctx context.Context, key, value string) (clientv3.LeaseID, error) {
	leaseID, err := eb.store.Grant(ctx, eb.ttl())
	if err != nil {
		return 0, errors.WithMessage(err, "zcomm: etcd grant")
	}
	if err := eb.store.PutWithLease(ctx, key, value, leaseID); err != nil {
		eb.store.Revoke(ctx, leaseID)
		return 0, errors.WithMessage(err, "zcomm: etcd put")
	}
	return leaseID, nil
}

func (eb *etcdAddressBook) Publish(ctx context.Context, e Endpoint) error {
	metadata, err := e.Marshal()
	if err != nil {
		return err
	}
	key := eb.cnf.key(e.Service)
	leaseID, err := eb.register(ctx, key, string(metadata))
	if err != nil {
		return err
	}

	p := &publication{key: key, value: string(metadata), lease: leaseID}
	eb.mutex.Lock()
	old, ok := eb.publications[e.Service]
	eb.publications[e.Service] = p
	eb.mutex.Unlock()
	if ok {
		eb.store.Revoke(ctx, old.lease)
	}

	go eb.keepalive(e.Service, p)
	eb.cnf.Logger.Infof("etcd address book: %s published at %s", e.Service, e.Address)
	return nil
}

// keepalive 定时续租，直到发布被替换或地址簿关闭
func (eb *etcdAddressBook) keepalive(service string, p *publication) {
	tick := time.NewTicker(eb.cnf.HeartBeatPeriod)
	defer tick.Stop()

	for {
		select {
		case <-eb.ctx.Done():
			return
		case <-tick.C:
			if !eb.renew(service, p) {
				return
			}
		}
	}
}

// renew 续租一次。续租失败（例如 etcd 中断超过租期，租约已过期）时重新申请租约并写入地址。
// 发布已被替换或撤销时返回 false。
func (eb *etcdAddressBook) renew(service string, p *publication) bool {
	eb.mutex.Lock()
	if eb.publications[service] != p {
		eb.mutex.Unlock()
		return false
	}
	leaseID := p.lease
	eb.mutex.Unlock()

	ctx, cancel := context.WithTimeout(eb.ctx, 5*time.Second)
	defer cancel()
	err := eb.store.KeepAlive(ctx, leaseID)
	if err == nil {
		eb.cnf.Logger.Debugf("etcd address book: service: %s renewal succ", service)
		return true
	}
	eb.cnf.Logger.Warnf("etcd address book: service: %s, leaseid: %d, renewal fail, err: %v, re-register", service, leaseID, err)

	newLease, err := eb.register(ctx, p.key, p.value)
	if err != nil {
		eb.cnf.Logger.Warnf("etcd address book: service: %s re-register fail, err: %v", service, err)
		return true
	}

	eb.mutex.Lock()
	current := eb.publications[service] == p
	if current {
		p.lease = newLease
	}
	eb.mutex.Unlock()
	if !current {
		// 期间被 Unpublish 或重新 Publish
		eb.store.Revoke(ctx, newLease)
		return false
	}
	eb.store.Revoke(ctx, leaseID)
	return true
}

func (eb *etcdAddressBook) Resolve(ctx context.Context, service string) (Endpoint, error) {
	value, found, err := eb.store.Get(ctx, eb.cnf.key(service))
	if err != nil {
		return Endpoint{}, errors.WithMessage(err, "zcomm: etcd get")
	}
	if !found {
		return Endpoint{}, errors.WithMessagef(ErrEndpointNotFound, "service %s", service)
	}
	return UnmarshalEndpoint(value)
}

func (eb *etcdAddressBook) Unpublish(ctx context.Context, service string) error {
	eb.mutex.Lock()
	p, ok := eb.publications[service]
	delete(eb.publications, service)
	eb.mutex.Unlock()

	if err := eb.store.Delete(ctx, eb.cnf.key(service)); err != nil {
		return errors.WithMessage(err, "zcomm: etcd delete")
	}
	if ok {
		eb.store.Revoke(ctx, p.lease)
	}
	return nil
}

func (eb *etcdAddressBook) Close() error {
	eb.cancel()
	return eb.store.Close()
}
