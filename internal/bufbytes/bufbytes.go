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

package bufbytes

import (
	"bytes"
	"errors"
)

const (
	cStringEnd = '\x00'
)

// ErrOverflow 表示写入会使缓冲区超出其容量上限
//
// 与原实现的静默截断不同: 用于累积 HEADERS/CONTINUATION 头部块的场景下
// 容量溢出意味着对端违反了约定的头部块上限 必须作为连接/流错误上抛 而不能
// 被悄悄丢弃剩余字节
var ErrOverflow = errors.New("bufbytes: write exceeds capacity")

type Bytes struct {
	size int
	buf  []byte
}

func New(size int) *Bytes {
	return &Bytes{
		size: size,
	}
}

// Write 追加 p 到缓冲区 若追加后将超出容量上限则返回 ErrOverflow 且不修改缓冲区
func (b *Bytes) Write(p []byte) error {
	if len(b.buf)+len(p) > b.size {
		return ErrOverflow
	}
	b.buf = append(b.buf, p...)
	return nil
}

func (b *Bytes) Len() int {
	return len(b.buf)
}

func (b *Bytes) Text() string {
	return string(b.buf)
}

func (b *Bytes) TrimCStringText() string {
	if !bytes.HasSuffix(b.buf, []byte{cStringEnd}) {
		return b.Text()
	}
	return string(b.buf[:len(b.buf)-1])
}

func (b *Bytes) Clone() []byte {
	if b.buf == nil {
		return nil
	}
	return append([]byte{}, b.buf...)
}

func (b *Bytes) Reset() {
	b.buf = b.buf[:0]
}
