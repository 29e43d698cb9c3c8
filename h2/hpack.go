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

import (
	fasthttp2 "github.com/dgrr/http2"
)

// HeaderField 是一个已解析的 header 键值对
type HeaderField struct {
	Name  string
	Value string
}

// Headers 是一组按到达顺序保留的 header 字段 一个 :status/:method 等伪首部和
// 普通字段都以同样的方式存放 调用方按需用 Get/All 取值
type Headers struct {
	fields []HeaderField
}

// NewHeaders 创建一个空的 Headers
func NewHeaders() *Headers {
	return &Headers{}
}

// Add 追加一个字段 保留重复字段 (例如多个 Set-Cookie)
func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, HeaderField{Name: name, Value: value})
}

// Get 返回第一个匹配 name 的字段值
func (h *Headers) Get(name string) string {
	for _, f := range h.fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// All 返回全部字段 供调用方遍历
func (h *Headers) All() []HeaderField {
	return h.fields
}

// HPack 是连接范围内的 HPACK 编解码器 包装 github.com/dgrr/http2 提供的
// HPACK 实现 一个连接一个实例 编码表/解码表的状态必须在整条连接的生命周期内
// 保持连续 不能按帧重建 (RFC 7541 §2.2 动态表是连接状态)
//
// 解码侧移植自 packetd-packetd/protocol/phttp2/headerfield.go 的
// HeaderFieldDecoder: AcquireHPACK -> Next(field, buf) 循环 -> ReleaseHPACK
// 编码侧移植自 dgrr/http2 serverConn.fasthttpResponseHeaders 的用法: 借用一个
// *Headers 帧仅仅作为 HPACK 编码的暂存区 (AppendHeaderField 只依赖 hp 和 hf 两个
// 参数 dst 只是它内部缓冲的落地点) 我们自己的线路帧格式由 h2/frame.go 负责组装
// 所以这里丢弃 dgrr Headers 帧自身的帧头 只取它编码出的 payload
type HPack struct {
	dec *fasthttp2.HPACK
	enc *fasthttp2.HPACK
}

// NewHPack 创建一个新的连接范围 HPACK 编解码器
func NewHPack() *HPack {
	return &HPack{
		dec: fasthttp2.AcquireHPACK(),
		enc: fasthttp2.AcquireHPACK(),
	}
}

// Release 归还底层 HPACK 实例
func (hp *HPack) Release() {
	hp.dec.Reset()
	fasthttp2.ReleaseHPACK(hp.dec)
	hp.enc.Reset()
	fasthttp2.ReleaseHPACK(hp.enc)
}

// SetMaxDecodeTableSize 应用我方 SETTINGS_HEADER_TABLE_SIZE 到解码表
func (hp *HPack) SetMaxDecodeTableSize(size uint32) {
	hp.dec.SetMaxTableSize(size)
}

// SetMaxEncodeTableSize 应用对端通告的 SETTINGS_HEADER_TABLE_SIZE 到编码表
func (hp *HPack) SetMaxEncodeTableSize(size uint32) {
	hp.enc.SetMaxTableSize(size)
}

// Decode 把一段已拼接完整的 header block 解码为 Headers
//
// 调用方必须保证 b 是一个完整的 header block (HEADERS 帧 + 其后所有
// CONTINUATION 帧 payload 拼接后的结果) HPACK 的霍夫曼/索引编码不能被从中间切开
func (hp *HPack) Decode(b []byte) (*Headers, error) {
	headers := NewHeaders()
	field := &fasthttp2.HeaderField{}

	buf := b
	for len(buf) > 0 {
		field.Reset()
		rest, err := hp.dec.Next(field, buf)
		if err != nil {
			return nil, wrapf(err, "hpack: decode header field")
		}
		buf = rest

		if field.Key() == "" {
			continue
		}
		headers.Add(field.Key(), field.Value())
	}
	return headers, nil
}

// Encode 把 Headers 编码为一段 HPACK header block
func (hp *HPack) Encode(headers *Headers) []byte {
	dst := fasthttp2.AcquireFrame(fasthttp2.FrameHeaders).(*fasthttp2.Headers)

	hf := fasthttp2.AcquireHeaderField()
	defer fasthttp2.ReleaseHeaderField(hf)

	for _, f := range headers.fields {
		hf.SetKeyBytes([]byte(f.Name))
		hf.SetValue(f.Value)
		dst.AppendHeaderField(hp.enc, hf, isSensitiveHeader(f.Name))
	}

	return append([]byte(nil), dst.Headers()...)
}

// isSensitiveHeader 标记不应该被写入 HPACK 动态表的字段 (RFC 7541 §7.1.3)
// cookie/authorization 这类字段即使反复出现也始终以字面量编码 避免把凭证数据
// 残留进动态表被后续压缩引用泄露
func isSensitiveHeader(name string) bool {
	switch name {
	case "cookie", "authorization", "set-cookie":
		return true
	default:
		return false
	}
}
