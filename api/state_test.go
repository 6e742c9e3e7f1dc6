// File: api/state_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateErr(t *testing.T) {
	assert.NoError(t, StateOk.Err())

	err := fmt.Errorf("copy: %w", StateRecvTimeout.Err())
	assert.ErrorIs(t, err, StateRecvTimeout.Err())
	assert.NotErrorIs(t, err, StateSendTimeout.Err())
	assert.Equal(t, StateRecvTimeout, StateOf(err))
	assert.Equal(t, "copy: recv timeout", err.Error())

	se := &StateError{State: StateDNSFailed, Op: "resolve", Err: errors.New("no such host")}
	assert.Equal(t, "resolve: dns failed: no such host", se.Error())
	assert.Equal(t, "no such host", errors.Unwrap(se).Error())
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, StateOk, StateOf(nil))
	assert.Equal(t, StateKilled, StateOf(fmt.Errorf("x: %w", ErrKilled)))
	assert.Equal(t, StateKilled, StateOf(ErrStopped))
	assert.Equal(t, StateNotSupported, StateOf(ErrNotSupported))
	assert.Equal(t, StateTimeout, StateOf(ErrOperationTimeout))
	assert.Equal(t, StateUnknownError, StateOf(errors.New("boom")))
}

func TestStateClasses(t *testing.T) {
	assert.False(t, StateOk.Terminal())
	assert.False(t, StatePaused.Terminal())
	assert.True(t, StateClosed.Terminal())
	assert.True(t, StateKilled.Terminal())

	assert.True(t, StateConnectTimeout.IsTimeout())
	assert.False(t, StateConnectFailed.IsTimeout())

	assert.Equal(t, "unknown error", State(-1).String())
	assert.Equal(t, "http redirect failed", StateHTTPRedirectFailed.String())
	assert.Equal(t, "opened", PhaseOpened.String())
}

func TestOpSlots(t *testing.T) {
	assert.Equal(t, SlotRead, OpKindRead.Slot())
	assert.Equal(t, SlotWrite, OpKindWrite.Slot())
	assert.Equal(t, SlotWrite, OpKindSync.Slot())
}
