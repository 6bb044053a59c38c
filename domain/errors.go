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

import (
	"errors"
	"strconv"
)

// Errno mirrors a UNIX errno value. Foreign syscalls return -Errno in the
// result register; native callers see it in the Err field of an FsResponse.
type Errno int32

const (
	EPERM  Errno = 1
	ENOENT Errno = 2
	EBADF  Errno = 9
	EEXIST Errno = 17
	EINVAL Errno = 22
	ENOSYS Errno = 38
	EFAULT Errno = 14
)

func (e Errno) Error() string {
	switch e {
	case ENOENT:
		return "no such file or directory"
	case EBADF:
		return "bad file descriptor"
	case EEXIST:
		return "file exists"
	case EINVAL:
		return "invalid argument"
	case ENOSYS:
		return "function not implemented"
	case EFAULT:
		return "bad address"
	case EPERM:
		return "operation not permitted"
	default:
		return "errno " + strconv.Itoa(int(e))
	}
}

// Codec errors. All three are fatal for the current call.
var (
	ErrEncodingTooLarge  = errors.New("codec: value does not fit in message buffer")
	ErrDecodeTypeMismatch = errors.New("codec: decoded tag does not match requested type")
	ErrDecodeTruncated   = errors.New("codec: buffer truncated or malformed")
)

// Mapper errors.
var (
	ErrMapFailed   = errors.New("mapper: kernel delegation failed")
	ErrMapExhausted = errors.New("mapper: root-virtual address space exhausted")
)

// ErrnoOf extracts the closest Errno for a generic error, defaulting to EINVAL.
func ErrnoOf(err error) Errno {
	if err == nil {
		return 0
	}
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	return EINVAL
}
