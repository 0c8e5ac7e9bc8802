// Package xerrors implements coded errors that round-trip across a process
// boundary, the way the teacher corpus's common/errors package lets a
// wsrep-style errno (EINTR, EAGAIN, EPROTO, ...) survive being logged,
// serialized, and reconstructed on the other side of the replicator
// boundary described in spec §7.
package xerrors

import (
	"errors"
	"fmt"
	"sync"
)

// Class partitions errors along the taxonomy in spec §7.
type Class uint8

const (
	// ClassProtocol covers malformed frames, fragment ordering violations,
	// unsupported versions.
	ClassProtocol Class = iota
	// ClassTransient covers allocation pressure, flow control, no quorum.
	ClassTransient
	// ClassVerdict covers certification FAILED - not an error, but carried
	// through the same enum for uniform propagation at call sites.
	ClassVerdict
	// ClassFatal covers violated invariants: index corruption, CRC failure
	// on a trusted buffer, encryption failure on lost plaintext.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassProtocol:
		return "protocol"
	case ClassTransient:
		return "transient"
	case ClassVerdict:
		return "verdict"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

const UnknownModule = "unknown"

var registry sync.Map // module -> map[code]*codedError

type codedError struct {
	module string
	code   uint32
	class  Class
	msg    string
}

func (e *codedError) Error() string { return e.msg }

// Re-exported so callers can treat this package as a drop-in for errors.
var (
	As     = errors.As
	Is     = errors.Is
	Unwrap = errors.Unwrap
)

// New registers and returns a new coded error. Re-registering the same
// (module, code) panics - it indicates a programming mistake, not a
// runtime condition.
func New(module string, code uint32, class Class, msg string) error {
	mod, _ := registry.LoadOrStore(module, &sync.Map{})
	m := mod.(*sync.Map)
	e := &codedError{module: module, code: code, class: class, msg: msg}
	if _, dup := m.LoadOrStore(code, e); dup {
		panic(fmt.Sprintf("xerrors: duplicate registration %s/%d", module, code))
	}
	return e
}

// ClassOf returns the Class of err, or ClassFatal if err is not a coded
// error (an unclassified error should be treated conservatively).
func ClassOf(err error) Class {
	var ce *codedError
	if As(err, &ce) {
		return ce.class
	}
	return ClassFatal
}

// Code returns the (module, code) pair of a coded error.
func Code(err error) (module string, code uint32, ok bool) {
	var ce *codedError
	if As(err, &ce) {
		return ce.module, ce.code, true
	}
	return UnknownModule, 0, false
}

type withContext struct {
	err     error
	context string
}

func (e *withContext) Error() string { return fmt.Sprintf("%v: %s", e.err, e.context) }
func (e *withContext) Unwrap() error { return e.err }

// WithContext annotates err with additional free-form context without
// losing its coded identity (Is/As still match the wrapped error).
func WithContext(err error, context string) error {
	if context == "" {
		return err
	}
	return &withContext{err: err, context: context}
}
