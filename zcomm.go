// Package zcomm carries messages over one-way, addressable comms and gives them a
// request/response shape.
//
// A Comm only sends or only receives. Request/response is layered on top by
// package client: every request that expects a reply gets a fresh receiving comm
// whose address, together with a request id and the caller's tag, travels in the
// request header. A Responder on the other side reads that header and sends the reply
// to the advertised address.
//
// Comm implementations are looked up by kind on a Factory. The "local" kind (in-process)
// is always available; the "zmq" kind registers itself when package zmqcomm is
// imported. Servers can publish their request address to an AddressBook (static,
// etcd or consul) so clients resolve it by service name.
package zcomm
