// Copyright 2024 The DevPool Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dperr defines the error code space shared by all devpool
// packages.  Codes are stable; callers should match on them through the
// Is* helpers or errors.Is rather than on message text.
package dperr

import (
	"errors"
	"fmt"
)

const (
	Ok uint16 = 0

	// Group 1: internal errors
	ErrInternal uint16 = 10101

	// Group 2: allocation errors
	ErrOOM          uint16 = 10201
	ErrSizeTooLarge uint16 = 10202

	// Group 3: driver/context errors
	ErrContextFailed uint16 = 10301

	// Group 4: handle misuse
	ErrDoubleFree   uint16 = 10401
	ErrUseAfterFree uint16 = 10402
	ErrDetached     uint16 = 10403
	ErrInvalidState uint16 = 10404
)

// Error carries a devpool error code, a human readable message and an
// optional cause from the layer below (driver, kernel).
type Error struct {
	code    uint16
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Code() uint16 {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches two devpool errors by code, so sentinel-style comparisons
// with errors.Is work across distinct instances.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.code == e.code
}

func newError(code uint16, msg string) *Error {
	return &Error{code: code, message: msg}
}

func newErrorCause(code uint16, msg string, cause error) *Error {
	return &Error{code: code, message: msg, cause: cause}
}

func NewInternal(format string, args ...interface{}) *Error {
	return newError(ErrInternal, fmt.Sprintf("internal error: "+format, args...))
}

func NewOOM(format string, args ...interface{}) *Error {
	return newError(ErrOOM, fmt.Sprintf("out of memory: "+format, args...))
}

func NewOOMCause(cause error, format string, args ...interface{}) *Error {
	return newErrorCause(ErrOOM, fmt.Sprintf("out of memory: "+format, args...), cause)
}

func NewSizeTooLarge(size uint64) *Error {
	return newError(ErrSizeTooLarge, fmt.Sprintf("requested size %d cannot be classified into any bin", size))
}

func NewContextFailed(cause error, op string) *Error {
	return newErrorCause(ErrContextFailed, fmt.Sprintf("device context %s failed", op), cause)
}

func NewDoubleFree() *Error {
	return newError(ErrDoubleFree, "allocation already freed")
}

func NewUseAfterFree(op string) *Error {
	return newError(ErrUseAfterFree, fmt.Sprintf("%s on freed allocation", op))
}

func NewDetached(op string) *Error {
	return newError(ErrDetached, fmt.Sprintf("%s on detached allocation", op))
}

func NewInvalidState(format string, args ...interface{}) *Error {
	return newError(ErrInvalidState, fmt.Sprintf("invalid state: "+format, args...))
}

func isCode(err error, code uint16) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.code == code
}

func IsOOM(err error) bool           { return isCode(err, ErrOOM) }
func IsSizeTooLarge(err error) bool  { return isCode(err, ErrSizeTooLarge) }
func IsContextFailed(err error) bool { return isCode(err, ErrContextFailed) }
func IsDoubleFree(err error) bool    { return isCode(err, ErrDoubleFree) }
func IsUseAfterFree(err error) bool  { return isCode(err, ErrUseAfterFree) }
func IsDetached(err error) bool      { return isCode(err, ErrDetached) }
func IsInvalidState(err error) bool  { return isCode(err, ErrInvalidState) }
func IsInternal(err error) bool      { return isCode(err, ErrInternal) }
