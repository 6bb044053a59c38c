//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package codec implements component A, the message buffer codec: a
// self-delimiting, position-independent, length-prefixed binary encoding
// over one worker's fixed-size shared page. No ecosystem library in the
// retrieved pack implements this kind of fixed-page, tag-prefixed wire
// format (the pack's serialization libraries -- protobuf, gRPC's own
// codec -- assume a growable byte stream, not a fixed shared page with a
// hard size ceiling and unmarshal-in-place semantics); encoding/binary is
// used directly, with the justification recorded in DESIGN.md.
package codec

import (
	"encoding/binary"

	"github.com/hedronos/roottask/domain"
)

// wire layout per Store: [tag byte][4-byte little-endian length][payload].
const headerLen = 1 + 4

// Buffer implements domain.CodecIface over a single fixed-size byte slice,
// simulating the kernel-mapped per-worker shared page. One Buffer belongs
// to exactly one worker and is reused across IPC turns via Reset.
type Buffer struct {
	data []byte // backing page, len == domain.MessageBufferSize
	n    int    // bytes currently valid in data (0 after Reset)
}

// NewBuffer allocates a codec Buffer of domain.MessageBufferSize bytes.
func NewBuffer() *Buffer {
	return &Buffer{data: make([]byte, domain.MessageBufferSize)}
}

func (b *Buffer) Reset() { b.n = 0 }

func (b *Buffer) Store(v domain.Encodable) error {
	payload := v.MarshalWire(nil)
	total := headerLen + len(payload)
	if total > len(b.data) {
		return domain.ErrEncodingTooLarge
	}

	b.data[0] = byte(v.WireTag())
	binary.LittleEndian.PutUint32(b.data[1:5], uint32(len(payload)))
	copy(b.data[headerLen:], payload)
	b.n = total
	return nil
}

func (b *Buffer) PeekTag() (domain.WireTag, error) {
	if b.n < headerLen {
		return 0, domain.ErrDecodeTruncated
	}
	return domain.WireTag(b.data[0]), nil
}

func (b *Buffer) Load(v domain.Encodable) error {
	if b.n < headerLen {
		return domain.ErrDecodeTruncated
	}
	tag := domain.WireTag(b.data[0])
	if tag != v.WireTag() {
		return domain.ErrDecodeTypeMismatch
	}
	length := binary.LittleEndian.Uint32(b.data[1:5])
	if int(length) > b.n-headerLen {
		return domain.ErrDecodeTruncated
	}
	return v.UnmarshalWire(b.data[headerLen : headerLen+int(length)])
}

// Bytes returns the valid prefix of the backing page, e.g. to hand off to
// domain.KernelIface.Reply.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, b.n)
	copy(out, b.data[:b.n])
	return out
}

// Load from a raw byte slice (as delivered by domain.KernelEvent.Payload)
// without a Buffer wrapper -- workers decode requests this way.
func LoadFrom(raw []byte, v domain.Encodable) error {
	b := &Buffer{data: raw, n: len(raw)}
	return b.Load(v)
}

var _ domain.CodecIface = (*Buffer)(nil)
