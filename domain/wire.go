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

package domain

import "encoding/binary"

// Wire tags for the sum types the codec (component A) moves across the
// message buffer. The filesystem and allocator services each have one
// request tag and one response tag; echo uses TagEcho for both directions.
// The operation within a service is picked out by an embedded "op" field,
// mirroring the Rust original's FsServiceRequest enum.
const (
	TagFsRequest WireTag = 1 + iota
	TagFsResponse
	TagAllocRequest
	TagAllocResponse
	TagEcho
)

func putString(dst []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, s...)
}

func getString(src []byte) (string, []byte, error) {
	if len(src) < 4 {
		return "", nil, ErrDecodeTruncated
	}
	n := binary.LittleEndian.Uint32(src[:4])
	src = src[4:]
	if uint32(len(src)) < n {
		return "", nil, ErrDecodeTruncated
	}
	return string(src[:n]), src[n:], nil
}

func putBytes(dst []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, b...)
}

func getBytes(src []byte) ([]byte, []byte, error) {
	if len(src) < 4 {
		return nil, nil, ErrDecodeTruncated
	}
	n := binary.LittleEndian.Uint32(src[:4])
	src = src[4:]
	if uint32(len(src)) < n {
		return nil, nil, ErrDecodeTruncated
	}
	out := make([]byte, n)
	copy(out, src[:n])
	return out, src[n:], nil
}

func putU64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func getU64(src []byte) (uint64, []byte, error) {
	if len(src) < 8 {
		return 0, nil, ErrDecodeTruncated
	}
	return binary.LittleEndian.Uint64(src[:8]), src[8:], nil
}

func putI64(dst []byte, v int64) []byte  { return putU64(dst, uint64(v)) }
func getI64(src []byte) (int64, []byte, error) {
	u, rest, err := getU64(src)
	return int64(u), rest, err
}

func putU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func getU32(src []byte) (uint32, []byte, error) {
	if len(src) < 4 {
		return 0, nil, ErrDecodeTruncated
	}
	return binary.LittleEndian.Uint32(src[:4]), src[4:], nil
}

// FsOpKind identifies which filesystem operation an FsRequest carries.
type FsOpKind byte

const (
	FsOpOpen FsOpKind = iota
	FsOpRead
	FsOpWrite
	FsOpLSeek
	FsOpClose
	FsOpUnlink
	FsOpStat
)

// FsRequest is the sum type the filesystem service (component D) receives
// through the message buffer. Only the fields relevant to Op are populated;
// unused fields are left zero.
type FsRequest struct {
	Op     FsOpKind
	FD     FD
	Path   string
	Flags  OpenFlags
	Umode  uint16
	Length int32
	Data   []byte
	Offset int64
	Whence Whence
}

func (r *FsRequest) WireTag() WireTag { return TagFsRequest }

func (r *FsRequest) MarshalWire(dst []byte) []byte {
	dst = append(dst, byte(r.Op))
	dst = putU64(dst, uint64(r.FD))
	dst = putString(dst, r.Path)
	dst = putU32(dst, uint32(r.Flags))
	dst = putU32(dst, uint32(r.Umode))
	dst = putU32(dst, uint32(r.Length))
	dst = putBytes(dst, r.Data)
	dst = putI64(dst, r.Offset)
	dst = putU32(dst, uint32(r.Whence))
	return dst
}

func (r *FsRequest) UnmarshalWire(src []byte) error {
	if len(src) < 1 {
		return ErrDecodeTruncated
	}
	r.Op = FsOpKind(src[0])
	src = src[1:]

	fd, src, err := getU64(src)
	if err != nil {
		return err
	}
	r.FD = FD(fd)

	r.Path, src, err = getString(src)
	if err != nil {
		return err
	}

	flags, src, err := getU32(src)
	if err != nil {
		return err
	}
	r.Flags = OpenFlags(flags)

	umode, src, err := getU32(src)
	if err != nil {
		return err
	}
	r.Umode = uint16(umode)

	length, src, err := getU32(src)
	if err != nil {
		return err
	}
	r.Length = int32(length)

	r.Data, src, err = getBytes(src)
	if err != nil {
		return err
	}

	r.Offset, src, err = getI64(src)
	if err != nil {
		return err
	}

	whence, _, err := getU32(src)
	if err != nil {
		return err
	}
	r.Whence = Whence(whence)
	return nil
}

// FsResponse is the sum type the filesystem service replies with.
type FsResponse struct {
	Op     FsOpKind
	Err    Errno
	FD     FD
	N      int32
	Data   []byte
	Offset int64
	Stat   FileStat
}

func (r *FsResponse) WireTag() WireTag { return TagFsResponse }

func (r *FsResponse) MarshalWire(dst []byte) []byte {
	dst = append(dst, byte(r.Op))
	dst = putU32(dst, uint32(r.Err))
	dst = putU64(dst, uint64(r.FD))
	dst = putU32(dst, uint32(r.N))
	dst = putBytes(dst, r.Data)
	dst = putI64(dst, r.Offset)
	dst = putU64(dst, r.Stat.Dev)
	dst = putU64(dst, r.Stat.Ino)
	dst = putU64(dst, r.Stat.Nlink)
	dst = putU32(dst, r.Stat.Mode)
	dst = putU32(dst, r.Stat.Uid)
	dst = putU32(dst, r.Stat.Gid)
	dst = putU64(dst, r.Stat.Rdev)
	dst = putI64(dst, r.Stat.Size)
	dst = putI64(dst, r.Stat.Blksize)
	dst = putI64(dst, r.Stat.Blocks)
	return dst
}

func (r *FsResponse) UnmarshalWire(src []byte) error {
	if len(src) < 1 {
		return ErrDecodeTruncated
	}
	r.Op = FsOpKind(src[0])
	src = src[1:]

	errv, src, err := getU32(src)
	if err != nil {
		return err
	}
	r.Err = Errno(errv)

	fd, src, err := getU64(src)
	if err != nil {
		return err
	}
	r.FD = FD(fd)

	n, src, err := getU32(src)
	if err != nil {
		return err
	}
	r.N = int32(n)

	r.Data, src, err = getBytes(src)
	if err != nil {
		return err
	}

	r.Offset, src, err = getI64(src)
	if err != nil {
		return err
	}

	r.Stat.Dev, src, err = getU64(src)
	if err != nil {
		return err
	}
	r.Stat.Ino, src, err = getU64(src)
	if err != nil {
		return err
	}
	r.Stat.Nlink, src, err = getU64(src)
	if err != nil {
		return err
	}
	mode, src, err := getU32(src)
	if err != nil {
		return err
	}
	r.Stat.Mode = mode
	uid, src, err := getU32(src)
	if err != nil {
		return err
	}
	r.Stat.Uid = uid
	gid, src, err := getU32(src)
	if err != nil {
		return err
	}
	r.Stat.Gid = gid
	r.Stat.Rdev, src, err = getU64(src)
	if err != nil {
		return err
	}
	r.Stat.Size, src, err = getI64(src)
	if err != nil {
		return err
	}
	r.Stat.Blksize, src, err = getI64(src)
	if err != nil {
		return err
	}
	r.Stat.Blocks, _, err = getI64(src)
	if err != nil {
		return err
	}
	return nil
}

// AllocRequest is what the allocator service (component F) receives.
type AllocRequest struct {
	Kind  AllocRequestKind
	Size  uint64
	Align uint64
	Ptr   uint64
}

func (r *AllocRequest) WireTag() WireTag { return TagAllocRequest }

func (r *AllocRequest) MarshalWire(dst []byte) []byte {
	dst = append(dst, byte(r.Kind))
	dst = putU64(dst, r.Size)
	dst = putU64(dst, r.Align)
	dst = putU64(dst, r.Ptr)
	return dst
}

func (r *AllocRequest) UnmarshalWire(src []byte) error {
	if len(src) < 1 {
		return ErrDecodeTruncated
	}
	r.Kind = AllocRequestKind(src[0])
	src = src[1:]

	var err error
	r.Size, src, err = getU64(src)
	if err != nil {
		return err
	}
	r.Align, src, err = getU64(src)
	if err != nil {
		return err
	}
	r.Ptr, _, err = getU64(src)
	return err
}

// AllocResponse is what the allocator service replies with.
type AllocResponse struct {
	Err  Errno
	Addr uint64
}

func (r *AllocResponse) WireTag() WireTag { return TagAllocResponse }

func (r *AllocResponse) MarshalWire(dst []byte) []byte {
	dst = putU32(dst, uint32(r.Err))
	dst = putU64(dst, r.Addr)
	return dst
}

func (r *AllocResponse) UnmarshalWire(src []byte) error {
	errv, src, err := getU32(src)
	if err != nil {
		return err
	}
	r.Err = Errno(errv)
	r.Addr, _, err = getU64(src)
	return err
}

// EchoMessage is used for both the echo request and its reply, exercising
// the codec's typed path the way stdout/stderr exercise a degenerate
// one-way version of it (see handler implementations in package portal).
type EchoMessage struct {
	Data []byte
}

func (m *EchoMessage) WireTag() WireTag { return TagEcho }

func (m *EchoMessage) MarshalWire(dst []byte) []byte {
	return putBytes(dst, m.Data)
}

func (m *EchoMessage) UnmarshalWire(src []byte) error {
	data, _, err := getBytes(src)
	if err != nil {
		return err
	}
	m.Data = data
	return nil
}
