package zcomm

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	REQUESTID       = "__request_id__"       // 请求 id
	RESPONSEADDRESS = "__response_address__" // 响应 comm 的地址
	CALLERTAG       = "__caller_tag__"       // 调用方标识
	ERRORMSG        = "__error__"            // 服务端处理失败时的错误信息
)

type Header map[string][]string

func (h Header) Set(key, value string) {
	h[key] = []string{value}
}

func (h Header) Add(key, value string) {
	h[key] = append(h[key], value)
}

func (h Header) Get(key string) string {
	if len(h[key]) == 0 {
		return ""
	}
	return h[key][0]
}

func (h Header) Pop(key string) string {
	if v, ok := h[key]; ok && len(v) > 0 {
		value := v[len(v)-1]
		h[key] = v[:len(v)-1]
		return value
	}
	return ""
}

func (h Header) Has(key string) bool {
	_, ok := h[key]
	return ok
}

func (h Header) Del(key string) {
	delete(h, key)
}

// Keys lists the header keys, so Header can carry trace context.
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// Message is the unit a Comm sends and receives.
type Message struct {
	Header  Header `msgpack:"head"`
	Payload []byte `msgpack:"payload"`
	EOF     bool   `msgpack:"eof"`
}

// NewMessage wraps payload in a Message with an empty header.
func NewMessage(payload []byte) *Message {
	return &Message{Header: make(Header), Payload: payload}
}

// EOFMessage returns the end-of-stream sentinel. It never expects a reply.
func EOFMessage() *Message {
	return &Message{Header: make(Header), EOF: true}
}

func (m *Message) IsEOF() bool {
	return m != nil && m.EOF
}

func (m *Message) Set(key, value string) {
	if m.Header == nil {
		m.Header = make(Header)
	}
	m.Header.Set(key, value)
}

func (m *Message) Get(key string) string {
	if m.Header == nil {
		return ""
	}
	return m.Header.Get(key)
}

// Err returns the error a responder attached to the reply, if any.
func (m *Message) Err() error {
	if msg := m.Get(ERRORMSG); msg != "" {
		return errors.New(msg)
	}
	return nil
}

// EncodeMessage serialises m for byte-oriented transports.
func EncodeMessage(m *Message) ([]byte, error) {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "zcomm: encode message")
	}
	return b, nil
}

func DecodeMessage(b []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "zcomm: decode message")
	}
	if m.Header == nil {
		m.Header = make(Header)
	}
	return &m, nil
}

// RequestHeader is the handshake a client attaches to a request that expects a reply.
type RequestHeader struct {
	RequestID       string
	ResponseAddress string
	CallerTag       string
}

// Apply merges the handshake fields into m's header.
func (rh RequestHeader) Apply(m *Message) {
	m.Set(REQUESTID, rh.RequestID)
	m.Set(RESPONSEADDRESS, rh.ResponseAddress)
	m.Set(CALLERTAG, rh.CallerTag)
}

// ParseRequestHeader reads the handshake back out of m. ok is false when m does not
// carry a request id and a response address.
func ParseRequestHeader(m *Message) (rh RequestHeader, ok bool) {
	if m == nil || m.Header == nil {
		return
	}
	rh = RequestHeader{
		RequestID:       m.Get(REQUESTID),
		ResponseAddress: m.Get(RESPONSEADDRESS),
		CallerTag:       m.Get(CALLERTAG),
	}
	ok = rh.RequestID != "" && rh.ResponseAddress != ""
	return
}
