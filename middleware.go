package zcomm

// BeforeSend 客户端发送请求前执行（此时请求头已经写入）
type BeforeSend func(req *Message)

// AfterRecv 客户端收到响应后执行；rep 可能为 nil
type AfterRecv func(requestID string, rep *Message, err error)

// BeforeHandle 服务端调用 Handler 前执行
type BeforeHandle func(rh RequestHeader, req *Message)

// AfterHandle 服务端调用 Handler 后、回复前执行
type AfterHandle func(rh RequestHeader, req, rep *Message, err error)
