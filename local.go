package zcomm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
)

const (
	LocalKind = "local"

	localScheme   = "local://"
	localInboxCap = 64
)

const (
	stateCreated int32 = iota
	stateOpen
	stateClosed
)

// LocalHub connects local comms living in the same process, keyed by address.
type LocalHub struct {
	inboxes map[string]*localInbox
	mutex   sync.RWMutex
}

type localInbox struct {
	ch     chan *Message
	closed chan struct{}
}

func NewLocalHub() *LocalHub {
	return &LocalHub{inboxes: make(map[string]*localInbox)}
}

// DefaultLocalHub backs the "local" kind of DefaultFactory.
var DefaultLocalHub = NewLocalHub()

// Constructor returns a Constructor producing local comms attached to hub.
func (hub *LocalHub) Constructor() Constructor {
	return func(cfg CommConfig) (Comm, error) {
		return hub.NewComm(cfg), nil
	}
}

func (hub *LocalHub) NewComm(cfg CommConfig) *LocalComm {
	return &LocalComm{cfg: cfg, hub: hub}
}

func (hub *LocalHub) bind(address string) (*localInbox, error) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if _, ok := hub.inboxes[address]; ok {
		return nil, errors.Errorf("zcomm: local address %s already bound", address)
	}
	inbox := &localInbox{
		ch:     make(chan *Message, localInboxCap),
		closed: make(chan struct{}),
	}
	hub.inboxes[address] = inbox
	return inbox, nil
}

func (hub *LocalHub) unbind(address string) {
	hub.mutex.Lock()
	delete(hub.inboxes, address)
	hub.mutex.Unlock()
}

func (hub *LocalHub) deliver(address string, msg *Message) error {
	hub.mutex.RLock()
	inbox, ok := hub.inboxes[address]
	hub.mutex.RUnlock()
	if !ok {
		return errors.WithMessagef(ErrNoAddress, "address %s", address)
	}
	select {
	case <-inbox.closed:
		return errors.WithMessagef(ErrNoAddress, "address %s", address)
	default:
	}
	select {
	case inbox.ch <- msg:
		return nil
	case <-inbox.closed:
		return errors.WithMessagef(ErrNoAddress, "address %s", address)
	}
}

// Bound reports whether some local comm is receiving on address.
func (hub *LocalHub) Bound(address string) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.inboxes[address]
	return ok
}

var _ Comm = (*LocalComm)(nil)

// LocalComm is an in-process Comm. Messages are copied on send so the two sides never
// share a header map.
type LocalComm struct {
	cfg     CommConfig
	hub     *LocalHub
	address string
	inbox   *localInbox
	state   int32
	mutex   sync.Mutex
}

// NewLocalComm builds an unopened comm on DefaultLocalHub.
func NewLocalComm(cfg CommConfig) (Comm, error) {
	return DefaultLocalHub.NewComm(cfg), nil
}

func (lc *LocalComm) Open() error {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()
	switch lc.state {
	case stateOpen:
		return nil
	case stateClosed:
		return ErrCommClosed
	}

	switch lc.cfg.Direction {
	case Recv:
		address := lc.cfg.Address
		if address == "" {
			address = localScheme + uuid.NewRandom().String()
		}
		inbox, err := lc.hub.bind(address)
		if err != nil {
			return err
		}
		lc.inbox = inbox
		lc.address = address
	case Send:
		if lc.cfg.Address == "" {
			return errors.WithMessage(ErrNoAddress, "local send comm needs a destination")
		}
		lc.address = lc.cfg.Address
	default:
		return errors.WithMessagef(ErrWrongDirection, "direction %d", lc.cfg.Direction)
	}
	atomic.StoreInt32(&lc.state, stateOpen)
	return nil
}

func (lc *LocalComm) Close() error {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()
	if lc.state == stateClosed {
		return nil
	}
	if lc.inbox != nil {
		lc.hub.unbind(lc.address)
		close(lc.inbox.closed)
	}
	atomic.StoreInt32(&lc.state, stateClosed)
	return nil
}

func (lc *LocalComm) Send(msg *Message) error {
	if err := lc.checkOpen(Send); err != nil {
		return err
	}
	if msg == nil {
		return errors.New("zcomm: nil message")
	}
	return lc.hub.deliver(lc.address, cloneMessage(msg))
}

func (lc *LocalComm) Recv(opts ...RecvOption) (*Message, error) {
	if err := lc.checkOpen(Recv); err != nil {
		return nil, err
	}
	o := ApplyRecvOptions(lc.cfg.Timeout, opts...)
	inbox := lc.inbox

	if o.Blocking() {
		select {
		case msg := <-inbox.ch:
			return msg, nil
		case <-inbox.closed:
			return nil, ErrCommClosed
		}
	}

	timer := time.NewTimer(o.Timeout)
	defer timer.Stop()
	select {
	case msg := <-inbox.ch:
		return msg, nil
	case <-inbox.closed:
		return nil, ErrCommClosed
	case <-timer.C:
		// a message may have landed at the same instant
		select {
		case msg := <-inbox.ch:
			return msg, nil
		default:
		}
		return nil, ErrRecvTimeout
	}
}

func (lc *LocalComm) checkOpen(dir Direction) error {
	switch atomic.LoadInt32(&lc.state) {
	case stateCreated:
		return ErrCommNotOpen
	case stateClosed:
		return ErrCommClosed
	}
	if lc.cfg.Direction != dir {
		return errors.WithMessagef(ErrWrongDirection, "%s on a %s comm", dir, lc.cfg.Direction)
	}
	return nil
}

func (lc *LocalComm) IsOpen() bool { return atomic.LoadInt32(&lc.state) == stateOpen }

func (lc *LocalComm) IsClosed() bool { return atomic.LoadInt32(&lc.state) == stateClosed }

// DrainMessages discards unread messages on a recv comm. Local delivery is synchronous,
// so there is never anything to flush on the send side.
func (lc *LocalComm) DrainMessages(dir Direction) int {
	if dir != Recv || lc.cfg.Direction != Recv || !lc.IsOpen() {
		return 0
	}
	var n int
	for {
		select {
		case <-lc.inbox.ch:
			n++
		default:
			return n
		}
	}
}

func (lc *LocalComm) EvaluateFilter(msg *Message) bool {
	return EvaluateFilter(lc.cfg, msg)
}

func (lc *LocalComm) Address() string {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()
	return lc.address
}

func cloneMessage(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	h := make(Header, len(msg.Header))
	for k, v := range msg.Header {
		h[k] = append([]string(nil), v...)
	}
	var payload []byte
	if msg.Payload != nil {
		payload = append([]byte(nil), msg.Payload...)
	}
	return &Message{Header: h, Payload: payload, EOF: msg.EOF}
}
