package zcomm

import (
	"runtime"
	"time"
)

type Option func(opt *options)

type options struct {
	Logger       Logger         // logger
	Factory      *Factory       // 创建 comm 的工厂
	WorkPoolSize int            // 处理请求的协程池大小
	PollInterval time.Duration  // Serve 检查退出信号的间隔
	AddressBook  AddressBook    // 发布服务地址
	ServiceName  string         // 发布使用的服务名
	NodeID       string         // 节点 id
	BeforeHandle []BeforeHandle // Handler 前置钩子
	AfterHandle  []AfterHandle  // Handler 后置钩子
}

func defaultOptions() *options {
	return &options{
		Logger:       DefaultLogger(),
		Factory:      DefaultFactory,
		WorkPoolSize: runtime.NumCPU() * 4,
		PollInterval: 200 * time.Millisecond,
		NodeID:       NewMessageID(),
	}
}

// WithLogger 设置 logger
func WithLogger(logger Logger) Option {
	return func(opt *options) {
		opt.Logger = logger
	}
}

// WithFactory 设置 comm 工厂（默认 DefaultFactory）
func WithFactory(f *Factory) Option {
	return func(opt *options) {
		opt.Factory = f
	}
}

// WithWorkPoolSize 设置工作池大小
func WithWorkPoolSize(size int) Option {
	return func(opt *options) {
		opt.WorkPoolSize = size
	}
}

// WithPollInterval 设置 Serve 检查退出信号的间隔
func WithPollInterval(d time.Duration) Option {
	return func(opt *options) {
		opt.PollInterval = d
	}
}

// WithAddressBook 启动后把请求地址以 service 名称发布到地址簿
func WithAddressBook(book AddressBook, service string) Option {
	return func(opt *options) {
		opt.AddressBook = book
		opt.ServiceName = service
	}
}

func WithNodeID(id string) Option {
	return func(opt *options) {
		opt.NodeID = id
	}
}

func WithBeforeHandle(f BeforeHandle) Option {
	return func(opt *options) {
		opt.BeforeHandle = append(opt.BeforeHandle, f)
	}
}

func WithAfterHandle(f AfterHandle) Option {
	return func(opt *options) {
		opt.AfterHandle = append(opt.AfterHandle, f)
	}
}
