// Copyright 2025 Loom Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package message

import (
	"bytes"
	"errors"
	"fmt"
)

// Verification errors
var (
	// ErrEmptyResponse is returned when a cache response contains no file parts
	ErrEmptyResponse = errors.New("empty response: no file parts")

	// ErrSizeMismatch is returned when a file part's declared size doesn't
	// match its actual content length
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrHashMismatch is returned when a file part's declared hash doesn't
	// match the hash computed over its content
	ErrHashMismatch = errors.New("hash mismatch")
)

// Verify checks a decoded body's cache response against its embedded
// integrity metadata. It has no side effects and doesn't mutate the body.
func Verify(body *Body) error {
	resp, err := body.GetCacheResponse()
	if err != nil {
		return err
	}
	return VerifyGetCacheResponse(resp)
}

// VerifyGetCacheResponse checks every file part in order: the declared size
// must equal the actual content length and the declared hash must equal the
// hash computed over the content
func VerifyGetCacheResponse(resp *GetCacheResponse) error {
	parts := resp.Parts()
	if len(parts) == 0 {
		return ErrEmptyResponse
	}
	for i, part := range parts {
		if part.Size() != uint64(len(part.Data())) {
			return fmt.Errorf(
				"%w: part %d declares %d bytes, has %d",
				ErrSizeMismatch,
				i,
				part.Size(),
				len(part.Data()),
			)
		}
		if !bytes.Equal(part.Hash(), PartHash(part.Data())) {
			return fmt.Errorf("%w: part %d", ErrHashMismatch, i)
		}
	}
	return nil
}
