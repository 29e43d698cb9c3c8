// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package h2

// Request 是提交给 Dispatcher 的一次完整的 HTTP/2 请求
//
// 字段形状沿用 packetd-packetd/protocol/phttp2/http2.go 的 Request (被动嗅探
// 视角下的请求记录) 去掉只有被动观察者才关心的 Host/Port/Proto/Size/Time 字段
// 换成服务端视角下真正需要的 StreamID/TraceID
type Request struct {
	StreamID  uint32
	Method    string
	Scheme    string
	Path      string
	Authority string
	Header    *Headers
	Body      []byte
	TraceID   string
}

// Response 是 Dispatcher 的返回值 由 ResponseBuilder 构造
type Response struct {
	StatusCode int
	Header     *Headers
	Body       []byte
}

// ResponseBuilder 以构建器模式组装 Response 未显式设置 StatusCode 时默认为 500
// (spec §9: "a Dispatcher that forgets to set a status communicates failure,
// not success")
type ResponseBuilder struct {
	resp Response
}

// NewResponseBuilder 创建一个状态码默认为 500 的构建器
func NewResponseBuilder() *ResponseBuilder {
	return &ResponseBuilder{
		resp: Response{
			StatusCode: 500,
			Header:     NewHeaders(),
		},
	}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.resp.StatusCode = code
	return b
}

func (b *ResponseBuilder) Set(name, value string) *ResponseBuilder {
	b.resp.Header.Add(name, value)
	return b
}

func (b *ResponseBuilder) Body(p []byte) *ResponseBuilder {
	b.resp.Body = p
	return b
}

// Build 返回组装好的 Response
func (b *ResponseBuilder) Build() *Response {
	return &b.resp
}

// Dispatcher 是一个纯函数: (Request) -> Response 不持有连接状态 不感知
// Stream/Frame 概念 每次调用都在连接锁之外的独立 goroutine 中进行
// (spec §4.3/§9 的显式重设计: 与 teacher 在持锁的单一 goroutine 内同步调用
// handler 不同 这里的调用天然允许多个请求并发处理而不互相阻塞)
type Dispatcher func(req *Request) *Response

// EchoDispatcher 是一个最小的默认 Dispatcher 实现 把请求体原样回显
// 主要用于测试与作为 cmd/serve.go 未配置业务 Dispatcher 时的兜底行为
func EchoDispatcher(req *Request) *Response {
	return NewResponseBuilder().
		Status(200).
		Set("content-type", "application/octet-stream").
		Body(req.Body).
		Build()
}
