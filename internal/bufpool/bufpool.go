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

// Package bufpool 提供跨连接复用的字节缓冲区池
//
// protocol/phttp2 原本引用了一个同名的内部包用于复用 scatter-read 缓冲区与
// HPACK 编码暂存区 但该包未出现在检索到的源码中 这里基于 bytebufferpool
// (已是 dgrr/http2 依赖链的一部分) 重建其获取/归还契约
package bufpool

import (
	"github.com/valyala/bytebufferpool"
)

var pool bytebufferpool.Pool

// Buf 是从池中取出的缓冲区 B 是可直接读写的底层字节切片
type Buf struct {
	bb *bytebufferpool.ByteBuffer
	B  []byte
}

// Acquire 取出一个容量至少为 size 的缓冲区
func Acquire(size int) *Buf {
	bb := pool.Get()
	if cap(bb.B) < size {
		bb.B = make([]byte, size)
	} else {
		bb.B = bb.B[:size]
	}
	return &Buf{bb: bb, B: bb.B}
}

// Release 归还缓冲区供下次复用
func Release(b *Buf) {
	if b == nil || b.bb == nil {
		return
	}
	pool.Put(b.bb)
}
