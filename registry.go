package zcomm

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// 发布地址时使用 json 序列化，以便查看

// Endpoint is what a server publishes so clients can find its request comm.
type Endpoint struct {
	Service string `json:"service"`
	NodeID  string `json:"nodeid"`
	Kind    string `json:"kind"`
	Address string `json:"address"`
}

func (e Endpoint) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEndpoint(b []byte) (Endpoint, error) {
	var e Endpoint
	err := json.Unmarshal(b, &e)
	return e, errors.WithMessage(err, "zcomm: endpoint")
}

// RegistryConfig 地址簿所需配置
type RegistryConfig struct {
	Registries      []string      // 注册中心 endpoint
	ServicePrefix   string        // 服务前缀
	HeartBeatPeriod time.Duration // 续租间隔
	Logger          Logger
}

func (cnf *RegistryConfig) key(service string) string {
	prefix := strings.Trim(cnf.ServicePrefix, "/")
	if prefix == "" {
		prefix = "zcomm"
	}
	return strings.Join([]string{prefix, service}, "/")
}

func (cnf *RegistryConfig) setDefaults() {
	if cnf.Logger == nil {
		cnf.Logger = DefaultLogger()
	}
	if cnf.HeartBeatPeriod <= 0 {
		cnf.HeartBeatPeriod = 10 * time.Second
	}
}

// AddressBook publishes and resolves the request address of a service.
type AddressBook interface {
	// Publish 发布（或覆盖）服务地址
	Publish(ctx context.Context, e Endpoint) error
	// Resolve 查询服务地址
	Resolve(ctx context.Context, service string) (Endpoint, error)
	// Unpublish 删除服务地址
	Unpublish(ctx context.Context, service string) error
	Close() error
}

var _ AddressBook = (*StaticAddressBook)(nil)

// StaticAddressBook keeps endpoints in memory.
type StaticAddressBook struct {
	endpoints map[string]Endpoint
	mutex     sync.RWMutex
}

func NewStaticAddressBook(endpoints ...Endpoint) *StaticAddressBook {
	book := &StaticAddressBook{endpoints: make(map[string]Endpoint)}
	for _, e := range endpoints {
		book.endpoints[e.Service] = e
	}
	return book
}

func (book *StaticAddressBook) Publish(_ context.Context, e Endpoint) error {
	if e.Service == "" {
		return errors.New("zcomm: endpoint without service name")
	}
	book.mutex.Lock()
	book.endpoints[e.Service] = e
	book.mutex.Unlock()
	return nil
}

func (book *StaticAddressBook) Resolve(_ context.Context, service string) (Endpoint, error) {
	book.mutex.RLock()
	defer book.mutex.RUnlock()
	e, ok := book.endpoints[service]
	if !ok {
		return Endpoint{}, errors.WithMessagef(ErrEndpointNotFound, "service %s", service)
	}
	return e, nil
}

func (book *StaticAddressBook) Unpublish(_ context.Context, service string) error {
	book.mutex.Lock()
	delete(book.endpoints, service)
	book.mutex.Unlock()
	return nil
}

func (book *StaticAddressBook) Close() error { return nil }
