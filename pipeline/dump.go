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
	"encoding/hex"
	"math"

	"github.com/packetd/h2engine/internal/zerocopy"
	"github.com/packetd/h2engine/logger"
)

// DumpHandlerName 是 DumpHandler 在 Pipeline 中注册时约定使用的名字
const DumpHandlerName = "dump"

// DumpHandler 把经过的每一段入站/出站字节记录为十六进制 dump 这是 spec §6
// 要求的唯一强制 tracing 面: 入站以 `<` 为前缀 出站以 `>` 为前缀
//
// zerocopy.Buffer 是一次性消费的游标: 读出字节用于记录之后 必须把消费到的
// 字节重新包装成一个新的 Buffer 再转发给下一个 Handler 否则下游会立刻读到 EOF
type DumpHandler struct {
	BaseHandler

	tag string
}

// NewDumpHandler 创建一个用给定标签标注日志行的 DumpHandler (通常是连接 id)
func NewDumpHandler(tag string) *DumpHandler {
	return &DumpHandler{tag: tag}
}

func (h *DumpHandler) OnRead(ctx *HandlerContext, buf zerocopy.Buffer) {
	b, err := buf.Read(math.MaxInt32)
	if err != nil {
		ctx.Next(zerocopy.NewBuffer(nil))
		return
	}

	if logger.EnabledDebug() {
		logger.Debugf("[%s] < %d bytes\n%s", h.tag, len(b), hex.Dump(b))
	}
	ctx.Next(zerocopy.NewBuffer(b))
}

func (h *DumpHandler) OnWrite(ctx *HandlerContext, p []byte) {
	if logger.EnabledDebug() {
		logger.Debugf("[%s] > %d bytes\n%s", h.tag, len(p), hex.Dump(p))
	}
	ctx.WriteNext(p)
}
