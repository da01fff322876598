package zcomm

import (
	"context"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/pkg/errors"
)

var _ AddressBook = (*consulAddressBook)(nil)

type consulAddressBook struct {
	cnf    *RegistryConfig
	client *consulapi.Client
}

// NewConsulAddressBook 使用 consul kv 保存服务地址
func NewConsulAddressBook(cnf *RegistryConfig) (AddressBook, error) {
	cnf.setDefaults()

	consulConfig := consulapi.DefaultConfig()
	// consul 客户端只连接一个 agent
	if len(cnf.Registries) > 0 {
		consulConfig.Address = cnf.Registries[0]
	}
	consulClient, err := consulapi.NewClient(consulConfig)
	if err != nil {
		return nil, errors.WithMessage(err, "zcomm: consul client")
	}

	return &consulAddressBook{
		cnf:    cnf,
		client: consulClient,
	}, nil
}

func (cb *consulAddressBook) Publish(ctx context.Context, e Endpoint) error {
	metadata, err := e.Marshal()
	if err != nil {
		return err
	}
	_, err = cb.client.KV().Put(&consulapi.KVPair{
		Key:   cb.cnf.key(e.Service),
		Value: metadata,
	}, (&consulapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return errors.WithMessage(err, "zcomm: consul put")
	}
	cb.cnf.Logger.Infof("consul address book: %s published at %s", e.Service, e.Address)
	return nil
}

func (cb *consulAddressBook) Resolve(ctx context.Context, service string) (Endpoint, error) {
	pair, _, err := cb.client.KV().Get(cb.cnf.key(service), (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return Endpoint{}, errors.WithMessage(err, "zcomm: consul get")
	}
	if pair == nil {
		return Endpoint{}, errors.WithMessagef(ErrEndpointNotFound, "service %s", service)
	}
	return UnmarshalEndpoint(pair.Value)
}

func (cb *consulAddressBook) Unpublish(ctx context.Context, service string) error {
	_, err := cb.client.KV().Delete(cb.cnf.key(service), (&consulapi.WriteOptions{}).WithContext(ctx))
	return errors.WithMessage(err, "zcomm: consul delete")
}

func (cb *consulAddressBook) Close() error { return nil }
