package client

import (
	"context"
	"sync"

	"github.com/hunyxv/zcomm"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

type state int

const (
	unopened state = iota
	opened
	closed
)

// Correlator turns a one-way request comm into request/response calls. Every request
// that expects a reply gets its own single-use response comm whose address travels in
// the request header; replies are read back in the order the requests were sent.
//
// Replies are matched first-in first-out: when more than one request is outstanding,
// the peer must answer in send order, otherwise use RecvID.
//
// A Correlator serialises its own operations; a Recv blocks every other call until
// it returns.
type Correlator struct {
	cfg     zcomm.ClientConfig
	opts    *options
	request zcomm.Comm
	pending *responseRegistry
	state   state
	mutex   sync.Mutex
}

// New creates a correlator. The request comm is built here but not opened; with an
// address book it is built by Open once the service address is known.
func New(cfg zcomm.ClientConfig, opts ...Option) (*Correlator, error) {
	defOpts := defaultOptions()
	for _, f := range opts {
		f(defOpts)
	}
	if defOpts.IDGenerator == nil {
		return nil, errors.New("zcomm-cli: request id generator cannot be nil")
	}
	if defOpts.MaxIDAttempts <= 0 {
		defOpts.MaxIDAttempts = 1
	}

	cfg.Request.Direction = zcomm.Send
	cfg.Response.Direction = zcomm.Recv
	cfg.Response.Address = ""
	if cfg.Response.Kind == "" {
		cfg.Response.Kind = cfg.Request.Kind
	}
	if cfg.CallerTag == "" {
		cfg.CallerTag = zcomm.DefaultCallerTag()
	}
	if _, err := defOpts.Factory.Lookup(cfg.Response.Kind); err != nil {
		return nil, err
	}

	c := &Correlator{
		cfg:     cfg,
		opts:    defOpts,
		pending: newResponseRegistry(),
	}
	if defOpts.AddressBook == nil {
		request, err := defOpts.Factory.Create(cfg.Request.Kind, cfg.Request)
		if err != nil {
			return nil, err
		}
		c.request = request
	}
	return c, nil
}

// Open opens the request comm. Opening an open correlator does nothing.
func (c *Correlator) Open() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch c.state {
	case opened:
		return nil
	case closed:
		return zcomm.ErrClosedCorrelator
	}

	if c.request == nil {
		if err := c.resolve(); err != nil {
			return err
		}
	}
	if err := c.request.Open(); err != nil {
		return zcomm.WrapOpenError(err)
	}
	c.state = opened
	c.opts.Logger.Debugf("correlator: %s opened, sending to %s", c.cfg.CallerTag, c.request.Address())
	return nil
}

func (c *Correlator) resolve() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ResolveTimeout)
	defer cancel()
	ep, err := c.opts.AddressBook.Resolve(ctx, c.opts.ServiceName)
	if err != nil {
		return err
	}

	cfg := c.cfg.Request
	cfg.Address = ep.Address
	if ep.Kind != "" {
		cfg.Kind = ep.Kind
	}
	request, err := c.opts.Factory.Create(cfg.Kind, cfg)
	if err != nil {
		return err
	}
	c.cfg.Request = cfg
	c.request = request
	return nil
}

// Send delivers msg. When msg expects a reply a response comm is opened and its
// address is written into msg's header. The bool reports whether the request comm
// accepted the message; a failed delivery leaves no response comm behind.
func (c *Correlator) Send(msg *zcomm.Message) (bool, error) {
	return c.SendContext(context.Background(), msg)
}

// SendContext is Send with ctx's span context propagated in the header.
func (c *Correlator) SendContext(ctx context.Context, msg *zcomm.Message) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ok, _, err := c.send(ctx, msg)
	return ok, err
}

func (c *Correlator) send(ctx context.Context, msg *zcomm.Message) (ok bool, requestID string, err error) {
	if c.state == closed {
		return false, "", zcomm.ErrClosedCorrelator
	}
	if msg == nil {
		return false, "", errors.New("zcomm-cli: nil message")
	}
	if msg.Header == nil {
		msg.Header = make(zcomm.Header)
	}

	ctx, span := zcomm.StartSpan(ctx, "zcomm.send", trace.SpanKindClient,
		zcomm.AttrCallerTag.String(c.cfg.CallerTag),
		zcomm.AttrCommKind.String(c.cfg.Request.Kind))
	defer func() { zcomm.EndSpan(span, err) }()

	var ch zcomm.Comm
	if !msg.IsEOF() && c.evaluateFilter(msg) {
		requestID, err = c.nextRequestID()
		if err != nil {
			return false, "", err
		}
		ch, err = c.openResponseComm()
		if err != nil {
			return false, "", err
		}
		c.pending.insert(requestID, ch)
		zcomm.RequestHeader{
			RequestID:       requestID,
			ResponseAddress: ch.Address(),
			CallerTag:       c.cfg.CallerTag,
		}.Apply(msg)
		span.SetAttributes(zcomm.AttrRequestID.String(requestID))
	}
	zcomm.InjectTrace(ctx, msg.Header)
	for _, f := range c.opts.BeforeSend {
		f(msg)
	}

	if sendErr := c.transmit(msg); sendErr != nil {
		c.opts.Logger.Warnf("correlator: %v: %v", zcomm.ErrSendFailure, sendErr)
		span.RecordError(sendErr)
		if ch != nil {
			c.pending.remove(requestID)
			if cerr := ch.Close(); cerr != nil {
				c.opts.Logger.Warnf("correlator: close response comm of %s fail: %v", requestID, cerr)
			}
		}
		return false, "", nil
	}
	return true, requestID, nil
}

func (c *Correlator) evaluateFilter(msg *zcomm.Message) bool {
	if c.request == nil {
		return zcomm.EvaluateFilter(c.cfg.Request, msg)
	}
	return c.request.EvaluateFilter(msg)
}

func (c *Correlator) transmit(msg *zcomm.Message) error {
	if c.request == nil {
		return zcomm.ErrCommNotOpen
	}
	return c.request.Send(msg)
}

// nextRequestID draws ids until one is not pending.
func (c *Correlator) nextRequestID() (string, error) {
	for i := 0; i < c.opts.MaxIDAttempts; i++ {
		id := c.opts.IDGenerator()
		if id != "" && !c.pending.has(id) {
			return id, nil
		}
	}
	return "", errors.WithMessagef(zcomm.ErrRequestIDExhausted, "%d attempts", c.opts.MaxIDAttempts)
}

func (c *Correlator) openResponseComm() (zcomm.Comm, error) {
	ch, err := c.opts.Factory.Create(c.cfg.Response.Kind, c.cfg.Response)
	if err != nil {
		return nil, err
	}
	if err := ch.Open(); err != nil {
		ch.Close()
		return nil, zcomm.WrapOpenError(err)
	}
	return ch, nil
}

// Recv waits on the response comm of the oldest pending request. That comm is
// discarded afterwards whatever the outcome, and the result is returned as is.
func (c *Correlator) Recv(opts ...zcomm.RecvOption) (*zcomm.Message, error) {
	return c.RecvContext(context.Background(), opts...)
}

// RecvContext is Recv that gives up when ctx is done by closing the response comm
// under the blocked receive.
func (c *Correlator) RecvContext(ctx context.Context, opts ...zcomm.RecvOption) (*zcomm.Message, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state == closed {
		return nil, zcomm.ErrClosedCorrelator
	}
	return c.recvOldest(ctx, opts)
}

// RecvID waits on the response comm of a specific request.
func (c *Correlator) RecvID(requestID string, opts ...zcomm.RecvOption) (*zcomm.Message, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state == closed {
		return nil, zcomm.ErrClosedCorrelator
	}
	ch, ok := c.pending.load(requestID)
	if !ok {
		return nil, errors.WithMessagef(zcomm.ErrUnknownRequest, "request %s", requestID)
	}
	return c.recvFrom(context.Background(), pendingResponse{requestID: requestID, comm: ch}, opts)
}

func (c *Correlator) recvOldest(ctx context.Context, opts []zcomm.RecvOption) (*zcomm.Message, error) {
	p, ok := c.pending.oldest()
	if !ok {
		return nil, zcomm.ErrNoPendingRequest
	}
	return c.recvFrom(ctx, p, opts)
}

func (c *Correlator) recvFrom(ctx context.Context, p pendingResponse, opts []zcomm.RecvOption) (*zcomm.Message, error) {
	stop := closeOnDone(ctx, p.comm)
	rep, err := p.comm.Recv(opts...)
	stop()
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	c.pending.remove(p.requestID)
	if cerr := p.comm.Close(); cerr != nil {
		c.opts.Logger.Warnf("correlator: close response comm of %s fail: %v", p.requestID, cerr)
	}
	for _, f := range c.opts.AfterRecv {
		f(p.requestID, rep, err)
	}
	return rep, err
}

// closeOnDone closes comm when ctx is done before the returned stop is called.
func closeOnDone(ctx context.Context, comm zcomm.Comm) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	stopped := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-ctx.Done():
			comm.Close()
		case <-stopped:
		}
	}()
	return func() {
		close(stopped)
		<-finished
	}
}

// Call sends msg and waits for its reply with no deadline unless opts say otherwise.
// Messages that expect no reply (end of stream, rejected by the filter) and failed
// sends return a nil message without waiting.
func (c *Correlator) Call(msg *zcomm.Message, opts ...zcomm.RecvOption) (*zcomm.Message, error) {
	return c.CallContext(context.Background(), msg, opts...)
}

func (c *Correlator) CallContext(ctx context.Context, msg *zcomm.Message, opts ...zcomm.RecvOption) (*zcomm.Message, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ok, requestID, err := c.send(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !ok || requestID == "" {
		return nil, nil
	}
	if len(opts) == 0 {
		opts = []zcomm.RecvOption{zcomm.WithoutTimeout()}
	}
	return c.recvOldest(ctx, opts)
}

// Close closes the request comm, then every pending response comm oldest first.
// Closing twice does nothing.
func (c *Correlator) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state == closed {
		return nil
	}

	var err error
	if c.request != nil {
		err = multierr.Append(err, c.request.Close())
	}
	for _, p := range c.pending.popAll() {
		err = multierr.Append(err, p.comm.Close())
	}
	c.state = closed
	return err
}

// Pending returns the number of requests waiting for a reply.
func (c *Correlator) Pending() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.pending.len()
}

// PendingIDs lists the ids of requests waiting for a reply, oldest first.
func (c *Correlator) PendingIDs() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.pending.ids()
}

// CallerTag returns the origin identifier sent with every request.
func (c *Correlator) CallerTag() string {
	return c.cfg.CallerTag
}
