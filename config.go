package zcomm

import "time"

// CommConfig 创建 comm 所需配置
type CommConfig struct {
	Kind           string        `json:"kind"`
	Name           string        `json:"name,omitempty"`
	Address        string        `json:"address,omitempty"`
	Direction      Direction     `json:"direction"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	MaxPayloadSize int           `json:"max_payload_size,omitempty"`
	Filter         Filter        `json:"-"`
}

// ClientConfig describes the outbound request comm and the template used for every
// per-request response comm.
type ClientConfig struct {
	Request   CommConfig `json:"request"`
	Response  CommConfig `json:"response"`
	CallerTag string     `json:"caller_tag,omitempty"`
}

// ServerConfig describes the counterpart of a client: where requests arrive and how
// replies are sent back.
type ServerConfig struct {
	Request  CommConfig `json:"request"`
	Response CommConfig `json:"response"`
}

// ServerConfigFor derives the server side of cfg: the server receives on the client's
// request kind and address, and replies with the client's response kind (the request
// kind when unset). The response address is left empty; it arrives per request in
// the header.
func ServerConfigFor(cfg ClientConfig) ServerConfig {
	respKind := cfg.Response.Kind
	if respKind == "" {
		respKind = cfg.Request.Kind
	}
	return ServerConfig{
		Request: CommConfig{
			Kind:           cfg.Request.Kind,
			Name:           cfg.Request.Name,
			Address:        cfg.Request.Address,
			Direction:      Recv,
			MaxPayloadSize: cfg.Request.MaxPayloadSize,
		},
		Response: CommConfig{
			Kind:      respKind,
			Name:      cfg.Response.Name,
			Direction: Send,
			Timeout:   cfg.Response.Timeout,
		},
	}
}
