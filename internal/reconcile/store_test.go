package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/livechat/internal/message"
)

func newTestStore() *Store {
	return NewStore(message.SenderCustomer, getTestLogger())
}

func TestStore_TimelineLazyCreation(t *testing.T) {
	s := newTestStore()

	assert.False(t, s.Has("sess-1"))
	tl := s.Timeline("sess-1")
	require.NotNil(t, tl)
	assert.True(t, s.Has("sess-1"))
	// Same instance on every lookup
	assert.Same(t, tl, s.Timeline("sess-1"))
}

func TestStore_ActiveSessionTracking(t *testing.T) {
	s := newTestStore()

	assert.Empty(t, s.Active())
	s.SetActive("sess-1")
	assert.Equal(t, "sess-1", s.Active())
	s.SetActive("")
	assert.Empty(t, s.Active())
}

func TestApplyHistoryIfActive_AppliesForActiveSession(t *testing.T) {
	s := newTestStore()
	s.SetActive("sess-1")

	history := []*message.Message{{
		ID:        "m1",
		SessionID: "sess-1",
		Sender:    message.SenderAgent,
		Content:   "hello",
		Timestamp: time.Now(),
		Status:    message.StatusSent,
	}}

	assert.True(t, s.ApplyHistoryIfActive("sess-1", history))
	assert.Len(t, s.Timeline("sess-1").Messages(), 1)
}

func TestApplyHistoryIfActive_DiscardsStaleFetch(t *testing.T) {
	s := newTestStore()
	s.SetActive("sess-1")
	// User switches away before the fetch for sess-1 resolves
	s.SetActive("sess-2")

	history := []*message.Message{{
		ID:        "m1",
		SessionID: "sess-1",
		Sender:    message.SenderAgent,
		Content:   "late",
		Timestamp: time.Now(),
		Status:    message.StatusSent,
	}}

	assert.False(t, s.ApplyHistoryIfActive("sess-1", history))
	// Neither timeline was touched by the stale fetch
	assert.Empty(t, s.Timeline("sess-1").Messages())
	assert.Empty(t, s.Timeline("sess-2").Messages())
}

func TestStore_Remove(t *testing.T) {
	s := newTestStore()
	s.Timeline("sess-1").AppendLocal("pending", nil)
	s.SetActive("sess-1")

	s.Remove("sess-1")

	assert.False(t, s.Has("sess-1"))
	assert.Empty(t, s.Active())
}
