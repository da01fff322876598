// Package zmqcomm provides a ZeroMQ backed zcomm.Comm. Importing it registers the
// "zmq" kind on zcomm.DefaultFactory.
//
// A recv comm is a PULL socket bound to its address (tcp://127.0.0.1:* by default,
// the chosen port is reported by Address), a send comm is a PUSH socket connected to
// the configured address. Each message travels as a single msgpack frame.
package zmqcomm

import (
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hunyxv/zcomm"
	"github.com/pborman/uuid"
	zmq "github.com/pebbe/zmq4"
	"github.com/pkg/errors"
)

const (
	Kind = "zmq"

	DefaultBindAddress = "tcp://127.0.0.1:*"

	defaultSendTimeout = 5 * time.Second
	pollSlice          = 50 * time.Millisecond
)

const (
	created int32 = iota
	opened
	closed
)

func init() {
	zcomm.DefaultFactory.MustRegister(Kind, New)
}

var _ zcomm.Comm = (*Comm)(nil)

type Comm struct {
	cfg     zcomm.CommConfig
	socket  *zmq.Socket
	poller  *zmq.Poller
	address string
	state   int32
	mutex   sync.Mutex // zmq socket 非线程安全
}

// New builds an unopened zmq comm.
func New(cfg zcomm.CommConfig) (zcomm.Comm, error) {
	return &Comm{cfg: cfg}, nil
}

func (c *Comm) Open() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	switch c.state {
	case opened:
		return nil
	case closed:
		return zcomm.ErrCommClosed
	}

	var err error
	switch c.cfg.Direction {
	case zcomm.Recv:
		err = c.bind()
	case zcomm.Send:
		err = c.connect()
	default:
		err = errors.WithMessagef(zcomm.ErrWrongDirection, "direction %d", c.cfg.Direction)
	}
	if err != nil {
		if c.socket != nil {
			c.socket.Close()
			c.socket = nil
		}
		return err
	}
	atomic.StoreInt32(&c.state, opened)
	return nil
}

func (c *Comm) bind() error {
	soc, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		return err
	}
	c.socket = soc

	endpoint := c.cfg.Address
	if endpoint == "" {
		endpoint = DefaultBindAddress
	}
	if err := soc.Bind(endpoint); err != nil {
		return errors.WithMessagef(err, "bind %s", endpoint)
	}
	// 绑定随机端口时取实际地址
	address, err := soc.GetLastEndpoint()
	if err != nil {
		return err
	}
	c.address = address

	c.poller = zmq.NewPoller()
	c.poller.Add(soc, zmq.POLLIN)
	return nil
}

func (c *Comm) connect() error {
	if c.cfg.Address == "" {
		return errors.WithMessage(zcomm.ErrNoAddress, "zmq send comm needs a destination")
	}
	soc, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		return err
	}
	c.socket = soc

	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	soc.SetIdentity(uuid.NewRandom().String())
	// 只向已建立的连接排队，对端不存在时 Send 超时返回而不是永远阻塞
	if err := soc.SetImmediate(true); err != nil {
		return err
	}
	if err := soc.SetSndtimeo(timeout); err != nil {
		return err
	}
	if err := soc.SetLinger(timeout); err != nil {
		return err
	}
	if err := soc.Connect(c.cfg.Address); err != nil {
		return errors.WithMessagef(err, "connect %s", c.cfg.Address)
	}
	c.address = c.cfg.Address
	return nil
}

func (c *Comm) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state == closed {
		return nil
	}
	atomic.StoreInt32(&c.state, closed)
	if c.socket == nil {
		return nil
	}
	err := c.socket.Close()
	c.socket = nil
	return err
}

func (c *Comm) Send(msg *zcomm.Message) error {
	if err := c.checkOpen(zcomm.Send); err != nil {
		return err
	}
	if msg == nil {
		return errors.New("zcomm: nil message")
	}
	frame, err := zcomm.EncodeMessage(msg)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.socket == nil {
		return zcomm.ErrCommClosed
	}
	_, err = c.socket.SendBytes(frame, 0)
	if err != nil && zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
		return errors.WithMessagef(err, "send to %s timed out", c.address)
	}
	return err
}

// Recv polls in short slices so Close from another goroutine is noticed quickly.
func (c *Comm) Recv(opts ...zcomm.RecvOption) (*zcomm.Message, error) {
	if err := c.checkOpen(zcomm.Recv); err != nil {
		return nil, err
	}
	o := zcomm.ApplyRecvOptions(c.cfg.Timeout, opts...)
	var deadline time.Time
	if !o.Blocking() {
		deadline = time.Now().Add(o.Timeout)
	}

	for {
		slice := pollSlice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, zcomm.ErrRecvTimeout
			}
			if remaining < slice {
				slice = remaining
			}
		}

		frame, err := c.poll(slice)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return zcomm.DecodeMessage(frame)
		}
	}
}

// poll returns nil, nil when nothing arrived within d.
func (c *Comm) poll(d time.Duration) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.socket == nil {
		return nil, zcomm.ErrCommClosed
	}
	polled, err := c.poller.Poll(d)
	if err != nil {
		return nil, err
	}
	if len(polled) == 0 {
		return nil, nil
	}
	return c.socket.RecvBytes(0)
}

func (c *Comm) checkOpen(dir zcomm.Direction) error {
	switch atomic.LoadInt32(&c.state) {
	case created:
		return zcomm.ErrCommNotOpen
	case closed:
		return zcomm.ErrCommClosed
	}
	if c.cfg.Direction != dir {
		return errors.WithMessagef(zcomm.ErrWrongDirection, "%s on a %s comm", dir, c.cfg.Direction)
	}
	return nil
}

func (c *Comm) IsOpen() bool { return atomic.LoadInt32(&c.state) == opened }

func (c *Comm) IsClosed() bool { return atomic.LoadInt32(&c.state) == closed }

// DrainMessages discards frames already queued on a recv comm. Outgoing frames are
// flushed by the linger period on Close, so the send side reports nothing.
func (c *Comm) DrainMessages(dir zcomm.Direction) int {
	if dir != zcomm.Recv || c.cfg.Direction != zcomm.Recv || !c.IsOpen() {
		return 0
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.socket == nil {
		return 0
	}
	var n int
	for {
		if _, err := c.socket.RecvBytes(zmq.DONTWAIT); err != nil {
			return n
		}
		n++
	}
}

func (c *Comm) EvaluateFilter(msg *zcomm.Message) bool {
	return zcomm.EvaluateFilter(c.cfg, msg)
}

func (c *Comm) Address() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.address
}
