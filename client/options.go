package client

import (
	"time"

	"github.com/hunyxv/zcomm"
)

type Option func(opt *options)

type options struct {
	Logger         zcomm.Logger       // logger
	Factory        *zcomm.Factory     // 创建 comm 的工厂
	IDGenerator    func() string      // 请求 id 生成器
	MaxIDAttempts  int                // 请求 id 冲突时的最大重试次数
	AddressBook    zcomm.AddressBook  // 服务发现组件
	ServiceName    string             // 要调用的服务
	ResolveTimeout time.Duration      // 查询地址簿的超时时间
	BeforeSend     []zcomm.BeforeSend // 发送前钩子
	AfterRecv      []zcomm.AfterRecv  // 接收后钩子
}

func defaultOptions() *options {
	return &options{
		Logger:         zcomm.DefaultLogger(),
		Factory:        zcomm.DefaultFactory,
		IDGenerator:    zcomm.NewMessageID,
		MaxIDAttempts:  16,
		ResolveTimeout: 5 * time.Second,
	}
}

// WithLogger 设置 logger
func WithLogger(logger zcomm.Logger) Option {
	return func(opt *options) {
		opt.Logger = logger
	}
}

// WithFactory 设置 comm 工厂（默认 zcomm.DefaultFactory）
func WithFactory(f *zcomm.Factory) Option {
	return func(opt *options) {
		opt.Factory = f
	}
}

// WithIDGenerator 设置请求 id 生成器
func WithIDGenerator(gen func() string) Option {
	return func(opt *options) {
		opt.IDGenerator = gen
	}
}

// WithMaxIDAttempts 设置生成不重复请求 id 的最大尝试次数
func WithMaxIDAttempts(n int) Option {
	return func(opt *options) {
		opt.MaxIDAttempts = n
	}
}

// WithAddressBook 打开时从地址簿查询 service 的请求地址
// 	配置后 ClientConfig.Request.Address 不生效
func WithAddressBook(book zcomm.AddressBook, service string) Option {
	return func(opt *options) {
		opt.AddressBook = book
		opt.ServiceName = service
	}
}

func WithResolveTimeout(d time.Duration) Option {
	return func(opt *options) {
		opt.ResolveTimeout = d
	}
}

func WithBeforeSend(f zcomm.BeforeSend) Option {
	return func(opt *options) {
		opt.BeforeSend = append(opt.BeforeSend, f)
	}
}

func WithAfterRecv(f zcomm.AfterRecv) Option {
	return func(opt *options) {
		opt.AfterRecv = append(opt.AfterRecv, f)
	}
}
