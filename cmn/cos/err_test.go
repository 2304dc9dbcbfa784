package cos_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amt-rt/vt/cmn/cos"
)

func TestErrNotFoundFormatsAndMatches(t *testing.T) {
	err := cos.NewErrNotFound("handler %d", 7)
	assert.EqualError(t, err, "handler 7 does not exist")
	assert.True(t, cos.IsErrNotFound(err))
	assert.False(t, cos.IsErrNotFound(errors.New("unrelated")))
}

func TestErrsDedupesAndCaps(t *testing.T) {
	var e cos.Errs
	assert.Equal(t, 0, e.Cnt())

	e.Add(nil)
	assert.Equal(t, 0, e.Cnt())

	same := errors.New("boom")
	e.Add(same)
	e.Add(errors.New("boom")) // same text, deduped
	assert.Equal(t, 1, e.Cnt())

	for i := 0; i < 10; i++ {
		e.Add(errors.New("unique"))
		_ = i
	}
	// every "unique" error after the first has identical text too, so
	// only one more distinct entry is ever added.
	assert.LessOrEqual(t, e.Cnt(), 4)

	cnt, err := e.JoinErr()
	require.Error(t, err)
	assert.Equal(t, e.Cnt(), cnt)
}

func TestErrsErrorStringSummarizesCount(t *testing.T) {
	var e cos.Errs
	assert.Equal(t, "", e.Error())

	e.Add(errors.New("a"))
	assert.Equal(t, "a", e.Error())

	e.Add(errors.New("b"))
	assert.Contains(t, e.Error(), "and 1 more error")
}

func TestAbortPanicsWhenThrowOnAbort(t *testing.T) {
	old := cos.ThrowOnAbort
	cos.ThrowOnAbort = true
	defer func() { cos.ThrowOnAbort = old }()

	assert.Panics(t, func() {
		cos.Abort(errors.New("boom"), "testing abort")
	})
}

func TestAssertAbortDowngradesToWarningWhenNoAssertFail(t *testing.T) {
	oldThrow, oldNoFail := cos.ThrowOnAbort, cos.NoAssertFail
	cos.ThrowOnAbort = true
	cos.NoAssertFail = true
	defer func() { cos.ThrowOnAbort = oldThrow; cos.NoAssertFail = oldNoFail }()

	assert.NotPanics(t, func() {
		cos.AssertAbort(false, cos.ErrNoHandler, "should only warn")
	})
}

func TestAssertAbortPassesWhenConditionTrue(t *testing.T) {
	assert.NotPanics(t, func() {
		cos.AssertAbort(true, cos.ErrNoHandler, "never reached")
	})
}
