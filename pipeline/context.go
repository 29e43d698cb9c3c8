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

package pipeline

import (
	"github.com/packetd/h2engine/internal/zerocopy"
)

// HandlerContext 是 Handler 在链中的位置: 一个非拥有的 Pipeline 回指
// 加上 prev/next 链接
//
// 对应 original_source 中的 ChannelHandlerContext: C++ 原型用 weak_ptr
// 打破 Context -> Pipeline -> Context 的引用环 Go 没有这个环的问题 (没有
// shared_ptr) 但依旧保留"只能单向导航"的约束: Handler 永远不能绕过
// ctx.Next/ctx.Write 直接拿到兄弟 Handler
type HandlerContext struct {
	name     string
	pipeline *Pipeline
	handler  Handler

	prev *HandlerContext
	next *HandlerContext
}

// Name 返回这个 Context 在 Pipeline 中注册时使用的名字
func (ctx *HandlerContext) Name() string {
	return ctx.name
}

// Pipeline 返回这个 Context 所属的 Pipeline
func (ctx *HandlerContext) Pipeline() *Pipeline {
	return ctx.pipeline
}

// Handler 返回这个 Context 绑定的 Handler 供调用方按名字取出某个具体 Handler
// 后做类型断言 (例如从外部触发 h2.Handler.Shutdown)
func (ctx *HandlerContext) Handler() Handler {
	return ctx.handler
}

// Next 把入站数据交给链中下一个 Handler 处理
//
// 位于链尾的 Handler (通常是 HTTP/2 Handler) 调用 Next 是没有意义的
// 此时调用直接是 no-op
func (ctx *HandlerContext) Next(buf zerocopy.Buffer) {
	if ctx.next == nil {
		return
	}
	ctx.next.handler.OnRead(ctx.next, buf)
}

// Write 把数据交给当前 Handler 的 OnWrite 钩子
//
// 出站链从链尾的 Handler 发起 (它调用自己 ctx 上的 Write) 默认实现
// (BaseHandler.OnWrite) 只是转发给 WriteNext 具体 Handler 可以覆盖
// OnWrite 在转发前后加入自己的处理 (例如 DumpHandler 的十六进制记录)
func (ctx *HandlerContext) Write(p []byte) {
	ctx.handler.OnWrite(ctx, p)
}

// WriteNext 把数据交给前一个 Handler 的 OnWrite 钩子 链头的 Context
// 没有 prev 此时落到 Pipeline 的 Channel 上 这是出站链真正的终点
func (ctx *HandlerContext) WriteNext(p []byte) {
	if ctx.prev == nil {
		ctx.pipeline.writeFinal(p)
		return
	}
	ctx.prev.handler.OnWrite(ctx.prev, p)
}
