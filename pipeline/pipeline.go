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

// Package pipeline 实现一条有序的字节流处理器链
//
// 入站数据从 Channel 读出后沿链头到链尾依次经过每个 Handler (ctx.Next)
// 出站数据则沿链尾到链头反向传递 (ctx.Write / ctx.WriteNext) 最终落到 Channel 上
//
// 移植自 original_source 中的 ChannelPipeline/ChannelHandlerContext:
// Pipeline 持有 Handler 链与底层 Channel Handler 的异常在 Pipeline 内被捕获并
// 转化为连接关闭 不会向上冒泡到读取循环
package pipeline

import (
	"fmt"

	"github.com/packetd/h2engine/channel"
	"github.com/packetd/h2engine/internal/rescue"
	"github.com/packetd/h2engine/internal/zerocopy"
	"github.com/packetd/h2engine/logger"
)

// Handler 处理一个方向上的字节流事件
//
// 实现者通常只关心其中一两个方法 其余留空即可 (嵌入 BaseHandler 可以获得
// 三个方法的透传实现)
type Handler interface {
	// OnRead 处理一段入站数据 需要继续向下传递时调用 ctx.Next(buf)
	OnRead(ctx *HandlerContext, buf zerocopy.Buffer)

	// OnWrite 处理一段出站数据 需要继续向 Channel 方向传递时调用 ctx.WriteNext(p)
	OnWrite(ctx *HandlerContext, p []byte)

	// OnClose 在底层 Channel 被关闭时调用一次 用于释放 Handler 持有的资源
	OnClose(ctx *HandlerContext)
}

// BaseHandler 提供 Handler 接口的透传实现 供具体 Handler 内嵌后只覆盖需要的方法
type BaseHandler struct{}

func (BaseHandler) OnRead(ctx *HandlerContext, buf zerocopy.Buffer) { ctx.Next(buf) }
func (BaseHandler) OnWrite(ctx *HandlerContext, p []byte)           { ctx.WriteNext(p) }
func (BaseHandler) OnClose(ctx *HandlerContext)                     {}

// namedContext 是链表中的一个节点: 名字 + Handler + 上下文
type namedContext struct {
	name string
	ctx  *HandlerContext
}

// Pipeline 持有一条有序的 Handler 链并驱动它与底层 Channel 交互
type Pipeline struct {
	ch       *channel.Channel
	handlers []namedContext

	closed chan struct{}
}

// New 创建一个绑定到给定 Channel 的空 Pipeline
func New(ch *channel.Channel) *Pipeline {
	return &Pipeline{ch: ch, closed: make(chan struct{})}
}

// AddLast 把一个具名 Handler 追加到链尾
//
// name 在同一条 Pipeline 内必须唯一 重复会直接 panic: 这是构建期配置错误
// 不是运行期可恢复的状况 与 original_source 中 addLast 抛出异常的处理方式一致
func (p *Pipeline) AddLast(name string, h Handler) *Pipeline {
	for _, nc := range p.handlers {
		if nc.name == name {
			panic(fmt.Sprintf("pipeline: duplicate handler name %q", name))
		}
	}

	ctx := &HandlerContext{
		name:     name,
		pipeline: p,
		handler:  h,
	}

	if n := len(p.handlers); n > 0 {
		prev := p.handlers[n-1].ctx
		prev.next = ctx
		ctx.prev = prev
	}

	p.handlers = append(p.handlers, namedContext{name: name, ctx: ctx})
	return p
}

// Get 按名字返回链中的 HandlerContext
func (p *Pipeline) Get(name string) (*HandlerContext, bool) {
	for _, nc := range p.handlers {
		if nc.name == name {
			return nc.ctx, true
		}
	}
	return nil, false
}

// Channel 返回底层 Channel
func (p *Pipeline) Channel() *channel.Channel {
	return p.ch
}

// Start 开始从 Channel 异步读取数据并驱动链头 Handler
func (p *Pipeline) Start() {
	p.ch.StartRead(p.onChannelRead)
}

// onChannelRead 是 Channel 的读取回调: 空 buf 表示对端关闭 此时触发 OnClose
// 否则把数据交给链头 Handler 任何 Handler 抛出的 panic 都会被捕获并转化为连接关闭
func (p *Pipeline) onChannelRead(buf zerocopy.Buffer) {
	// 捕获 Handler 抛出的 panic 并转化为连接关闭 这是核心里唯一的兜底异常边界
	// (spec §4.2 Exception discipline) recover() 只能在这里调用一次: 直接复用
	// rescue.PanicHandlers 而不是再套一层 rescue.HandleCrash (它内部也会调用
	// recover 但此时 panic 已经被下面这次 recover 处理过 再调用只会拿到 nil)
	defer func() {
		if r := recover(); r != nil {
			for _, fn := range rescue.PanicHandlers {
				fn(r)
			}
			_ = p.ch.Close()
		}
	}()

	if len(p.handlers) == 0 {
		return
	}

	head := p.handlers[0].ctx
	n, err := buf.Read(0)
	_ = n
	if err != nil {
		p.propagateClose()
		close(p.closed)
		return
	}

	head.handler.OnRead(head, buf)
}

// Wait 阻塞直至底层 Channel 关闭且 OnClose 已经传播给所有 Handler
//
// 供每连接一个 goroutine 的调用方 (如 server.Server.serveConn) 在
// Start() 之后调用 以便在连接真正结束前不返回
func (p *Pipeline) Wait() {
	<-p.closed
}

func (p *Pipeline) propagateClose() {
	logger.Debugf("pipeline: channel closed, propagating OnClose to %d handler(s)", len(p.handlers))
	for _, nc := range p.handlers {
		nc.ctx.handler.OnClose(nc.ctx)
	}
}

// writeFinal 把数据写出到底层 Channel 这是出站链真正的终点
// (HandlerContext.WriteNext 在链头 (prev == nil) 时落到这里)
func (p *Pipeline) writeFinal(data []byte) (int, error) {
	return p.ch.Write(data)
}

// Head 返回链头的 HandlerContext 经由它写出的数据只经过链头 Handler 的 OnWrite
func (p *Pipeline) Head() (*HandlerContext, bool) {
	if len(p.handlers) == 0 {
		return nil, false
	}
	return p.handlers[0].ctx, true
}

// Tail 返回链尾的 HandlerContext
func (p *Pipeline) Tail() (*HandlerContext, bool) {
	if len(p.handlers) == 0 {
		return nil, false
	}
	return p.handlers[len(p.handlers)-1].ctx, true
}

// Close 关闭底层 Channel
func (p *Pipeline) Close() error {
	return p.ch.Close()
}
