package zcomm

import "time"

// Direction 表示 comm 的方向
type Direction int

const (
	Send Direction = iota + 1 // 发送
	Recv                      // 接收
)

func (d Direction) String() string {
	switch d {
	case Send:
		return "send"
	case Recv:
		return "recv"
	}
	return "unknown"
}

// Comm is a one-way, addressable message channel. A send Comm delivers to the
// address it was configured with; a recv Comm is bound to an address that peers
// send to and reports it through Address once opened.
type Comm interface {
	// Open 打开 comm（recv 方向会绑定地址）
	Open() error
	// Close 关闭 comm，阻塞中的 Recv 会返回 ErrCommClosed
	Close() error
	// Send 发送消息
	Send(msg *Message) error
	// Recv 接收消息，超时返回 ErrRecvTimeout
	Recv(opts ...RecvOption) (*Message, error)
	IsOpen() bool
	IsClosed() bool
	// DrainMessages 在 send 方向上等待待发送消息发出，在 recv 方向上丢弃未读消息；
	// 返回处理的消息数
	DrainMessages(dir Direction) int
	// EvaluateFilter 返回 false 表示该 comm 不接受这条消息
	EvaluateFilter(msg *Message) bool
	// Address 打开后可用
	Address() string
}

// Filter is a predicate a Comm applies to outgoing messages.
type Filter func(msg *Message) bool

// RecvOption tunes a single Recv call.
type RecvOption func(opt *RecvOptions)

type RecvOptions struct {
	Timeout    time.Duration // <0 一直阻塞
	hasTimeout bool
}

// WithTimeout bounds a Recv. A negative duration blocks until a message arrives or
// the Comm is closed.
func WithTimeout(d time.Duration) RecvOption {
	return func(opt *RecvOptions) {
		opt.Timeout = d
		opt.hasTimeout = true
	}
}

// WithoutTimeout makes Recv block regardless of the Comm's configured timeout.
func WithoutTimeout() RecvOption {
	return WithTimeout(-1)
}

// ApplyRecvOptions resolves opts against the Comm's configured default timeout.
// A zero default means block.
func ApplyRecvOptions(def time.Duration, opts ...RecvOption) RecvOptions {
	o := RecvOptions{}
	for _, f := range opts {
		f(&o)
	}
	if !o.hasTimeout {
		o.Timeout = def
		if def == 0 {
			o.Timeout = -1
		}
	}
	return o
}

// Blocking reports whether the receive waits without a deadline.
func (o RecvOptions) Blocking() bool {
	return o.Timeout < 0
}

// EvaluateFilter applies the filter part of cfg to msg. End-of-stream messages always pass.
func EvaluateFilter(cfg CommConfig, msg *Message) bool {
	if msg == nil {
		return false
	}
	if msg.IsEOF() {
		return true
	}
	if cfg.MaxPayloadSize > 0 && len(msg.Payload) > cfg.MaxPayloadSize {
		return false
	}
	if cfg.Filter != nil {
		return cfg.Filter(msg)
	}
	return true
}
