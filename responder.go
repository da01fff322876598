package zcomm

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

// Handler computes the reply to a request. A nil reply is sent as an empty message;
// a non-nil error travels back in the ERRORMSG header.
type Handler func(ctx context.Context, req *Message) (*Message, error)

// Responder is the server counterpart of a client correlator: it receives requests on
// one comm and answers each on a fresh send comm opened to the address found in the
// request header.
type Responder struct {
	ctx    context.Context
	cancel context.CancelFunc

	opts    *options
	cfg     ServerConfig
	handler Handler
	request Comm
	pool    *ants.Pool

	inflight sync.WaitGroup
	done     chan struct{} // Serve 退出时关闭
	isClosed bool
	mutex    sync.Mutex
}

func NewResponder(cfg ServerConfig, handler Handler, opts ...Option) (*Responder, error) {
	if handler == nil {
		return nil, errors.New("zcomm: responder needs a handler")
	}
	defOpts := defaultOptions()
	for _, f := range opts {
		f(defOpts)
	}

	cfg.Request.Direction = Recv
	cfg.Response.Direction = Send
	if cfg.Response.Kind == "" {
		cfg.Response.Kind = cfg.Request.Kind
	}

	request, err := defOpts.Factory.Create(cfg.Request.Kind, cfg.Request)
	if err != nil {
		return nil, err
	}
	if err := request.Open(); err != nil {
		return nil, WrapOpenError(err)
	}

	pool, err := ants.NewPool(defOpts.WorkPoolSize)
	if err != nil {
		request.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Responder{
		ctx:     ctx,
		cancel:  cancel,
		opts:    defOpts,
		cfg:     cfg,
		handler: handler,
		request: request,
		pool:    pool,
	}

	if defOpts.AddressBook != nil {
		err := defOpts.AddressBook.Publish(ctx, r.Endpoint())
		if err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

// Address returns the address clients send requests to.
func (r *Responder) Address() string {
	return r.request.Address()
}

// Endpoint describes this responder for an address book.
func (r *Responder) Endpoint() Endpoint {
	return Endpoint{
		Service: r.opts.ServiceName,
		NodeID:  r.opts.NodeID,
		Kind:    r.cfg.Request.Kind,
		Address: r.Address(),
	}
}

// Serve receives requests until ctx is cancelled, the responder is closed, or an
// end-of-stream message arrives. Requests are handled concurrently on the work pool.
// Serve may be called again after it returns, unless the responder was closed.
func (r *Responder) Serve(ctx context.Context) error {
	r.mutex.Lock()
	if r.isClosed {
		r.mutex.Unlock()
		return ErrCommClosed
	}
	if r.done != nil {
		r.mutex.Unlock()
		return errors.New("zcomm: responder is already serving")
	}
	done := make(chan struct{})
	r.done = done
	r.mutex.Unlock()
	defer func() {
		// 结束后允许再次 Serve（例如收到 EOF 之后）
		r.mutex.Lock()
		r.done = nil
		r.mutex.Unlock()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.ctx.Done():
			return nil
		default:
		}

		req, err := r.request.Recv(WithTimeout(r.opts.PollInterval))
		switch {
		case errors.Is(err, ErrRecvTimeout):
			continue
		case errors.Is(err, ErrCommClosed):
			return nil
		case err != nil:
			r.opts.Logger.Errorf("responder: recv fail: %v", err)
			return err
		}

		if req.IsEOF() {
			r.opts.Logger.Debugf("responder: end of stream on %s", r.Address())
			return nil
		}

		r.inflight.Add(1)
		err = r.pool.Submit(func() {
			defer r.inflight.Done()
			r.handle(ctx, req)
		})
		if err != nil {
			r.inflight.Done()
			r.opts.Logger.Warnf("responder: submit task fail: %v", err)
		}
	}
}

func (r *Responder) handle(ctx context.Context, req *Message) {
	rh, ok := ParseRequestHeader(req)

	ctx = ExtractTrace(ctx, req.Header)
	ctx, span := StartSpan(ctx, "zcomm.handle", trace.SpanKindServer,
		AttrRequestID.String(rh.RequestID),
		AttrCallerTag.String(rh.CallerTag))

	for _, f := range r.opts.BeforeHandle {
		f(rh, req)
	}
	rep, err := r.handler(ctx, req)
	if rep == nil {
		rep = NewMessage(nil)
	}
	if err != nil {
		rep.Set(ERRORMSG, err.Error())
	}
	for _, f := range r.opts.AfterHandle {
		f(rh, req, rep, err)
	}

	if !ok {
		// 单向消息，无需回复
		EndSpan(span, err)
		return
	}
	rep.Set(REQUESTID, rh.RequestID)
	InjectTrace(ctx, rep.Header)
	if rerr := r.reply(rh.ResponseAddress, rep); rerr != nil {
		r.opts.Logger.Warnf("responder: reply to %s (request %s) fail: %v", rh.ResponseAddress, rh.RequestID, rerr)
		err = multierr.Append(err, rerr)
	}
	EndSpan(span, err)
}

func (r *Responder) reply(address string, rep *Message) (err error) {
	cfg := r.cfg.Response
	cfg.Address = address
	c, err := r.opts.Factory.Create(cfg.Kind, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, c.Close())
	}()

	if err = c.Open(); err != nil {
		return WrapOpenError(err)
	}
	return c.Send(rep)
}

// Close stops Serve, waits for in-flight requests and releases the request comm.
// Closing twice is a no-op.
func (r *Responder) Close() error {
	r.mutex.Lock()
	if r.isClosed {
		r.mutex.Unlock()
		return nil
	}
	r.isClosed = true
	done := r.done
	r.mutex.Unlock()

	r.cancel()
	err := r.request.Close()
	if done != nil {
		<-done
	}
	r.inflight.Wait()
	r.pool.Release()

	if r.opts.AddressBook != nil {
		err = multierr.Append(err, r.opts.AddressBook.Unpublish(context.Background(), r.opts.ServiceName))
	}
	return err
}
