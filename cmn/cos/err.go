// Package cos provides common low-level types, errors, and the single
// fatal-abort entry point used throughout the runtime.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
	"os"
	"sync"
	ratomic "sync/atomic"

	pkgerrors "github.com/pkg/errors"

	"github.com/amt-rt/vt/cmn/nlog"
)

type (
	ErrNotFound struct {
		what string
	}
	// Errs aggregates up to maxErrs distinct errors, e.g. per-node send
	// failures collected while fanning out a broadcast.
	Errs struct {
		errs []error
		cnt  int64
		mu   sync.Mutex
	}
)

// Sentinel usage errors (§7): every one of these is fatal when it
// reaches Abort/AssertAbort; they are exported so callers can also test for
// them with errors.Is before aborting.
var (
	ErrUninitializedDestination = errors.New("send to uninitialized destination")
	ErrNoRuntime                = errors.New("no runtime initialized")
	ErrNoHandler                = errors.New("handler not set on envelope")
	ErrEnvelopeLocked           = errors.New("envelope is locked by transport")
	ErrDoubleClose              = errors.New("epoch already closed")
	ErrDeserialize              = errors.New("deserialization failed")
	ErrHangDetected             = errors.New("termination hang detected")
)

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			e.mu.Unlock()
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
	e.mu.Unlock()
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) JoinErr() (cnt int, err error) {
	if cnt = e.Cnt(); cnt > 0 {
		e.mu.Lock()
		err = errors.Join(e.errs...)
		e.mu.Unlock()
	}
	return
}

func (e *Errs) Error() string {
	cnt, err := e.JoinErr()
	if err == nil {
		return ""
	}
	if cnt > 1 {
		return fmt.Sprintf("%v (and %d more error(s))", err, cnt-1)
	}
	return err.Error()
}

//
// Abnormal termination (§7): every fatal path funnels through Abort.
//

var (
	// ThrowOnAbort mirrors vt_throw_on_abort: when set, Abort panics
	// with the wrapped error instead of calling os.Exit, so embedding
	// programs (and tests) can recover.
	ThrowOnAbort bool

	// NoAssertFail mirrors vt_no_assert_fail: downgrades AssertAbort to
	// a logged warning instead of a fatal abort, for fuzzing.
	NoAssertFail bool
)

// Abort is the one funnel for usage errors, assertion failures, and
// transport errors (§7): it logs through the unbuffered nlog and
// terminates (or panics when ThrowOnAbort).
func Abort(cause error, context string) {
	wrapped := pkgerrors.Wrap(cause, context)
	nlog.ErrorDepth(1, wrapped.Error())
	if ThrowOnAbort {
		panic(wrapped)
	}
	os.Exit(1)
}

// AssertAbort is the assertion-failure variant of Abort: controlled by
// NoAssertFail, which downgrades it to a warning.
func AssertAbort(cond bool, cause error, context string) {
	if cond {
		return
	}
	if NoAssertFail {
		nlog.Warningf("assertion would have failed: %s: %v", context, cause)
		return
	}
	Abort(cause, context)
}
