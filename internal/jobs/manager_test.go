package jobs

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusPtr(s Status) *Status { return &s }
func stagePtr(s Stage) *Stage    { return &s }
func intPtr(i int) *int          { return &i }
func strPtr(s string) *string    { return &s }

func TestCreateInitialState(t *testing.T) {
	m := NewManager(nil)
	st := m.Create("report.pdf", "t1")

	_, err := uuid.Parse(st.JobID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", st.Filename)
	assert.Equal(t, "t1", st.TenantID)
	assert.Equal(t, StatusQueued, st.Status)
	assert.Equal(t, StageQueued, st.Stage)
	assert.Equal(t, st.CreatedAt, st.UpdatedAt)
	assert.Nil(t, st.CompletedAt)

	got, ok := m.Get(st.JobID)
	require.True(t, ok)
	assert.Equal(t, st, got)
}

func TestGetUnknownJob(t *testing.T) {
	m := NewManager(nil)
	_, ok := m.Get("nope")
	assert.False(t, ok)

	_, ok = m.Update("nope", Patch{Status: statusPtr(StatusRunning)})
	assert.False(t, ok)
}

func TestUpdateAppliesPatchAndInheritsUnsetFields(t *testing.T) {
	m := NewManager(nil)
	st := m.Create("report.pdf", "t1")

	st2, ok := m.Update(st.JobID, Patch{
		Status:      statusPtr(StatusRunning),
		Stage:       stagePtr(StageParsing),
		TotalChunks: intPtr(4),
	})
	require.True(t, ok)
	assert.Equal(t, StatusRunning, st2.Status)
	assert.Equal(t, StageParsing, st2.Stage)
	assert.Equal(t, 4, st2.TotalChunks)
	assert.Equal(t, "report.pdf", st2.Filename)

	// unset fields keep their values across a later patch
	st3, ok := m.Update(st.JobID, Patch{Stage: stagePtr(StageChunking)})
	require.True(t, ok)
	assert.Equal(t, StatusRunning, st3.Status)
	assert.Equal(t, StageChunking, st3.Stage)
	assert.Equal(t, 4, st3.TotalChunks)
}

func TestUpdatedAtStrictlyIncreasing(t *testing.T) {
	m := NewManager(nil)
	st := m.Create("a.txt", "")

	prev := st.UpdatedAt
	for i := 0; i < 100; i++ {
		next, ok := m.Update(st.JobID, Patch{ProcessedChunks: intPtr(i)})
		require.True(t, ok)
		assert.True(t, next.UpdatedAt.After(prev), "updated_at must strictly increase")
		prev = next.UpdatedAt
	}
}

func TestTerminalLatch(t *testing.T) {
	m := NewManager(nil)
	st := m.Create("a.txt", "")

	var deliveries []State
	unsub, ok := m.Subscribe(st.JobID, func(s State) { deliveries = append(deliveries, s) })
	require.True(t, ok)
	defer unsub()

	done, ok := m.Update(st.JobID, Patch{Status: statusPtr(StatusCompleted), Stage: stagePtr(StageCompleted)})
	require.True(t, ok)
	require.NotNil(t, done.CompletedAt)

	// any further update is ignored: same snapshot back, nothing emitted
	after, ok := m.Update(st.JobID, Patch{Status: statusPtr(StatusFailed), Error: strPtr("late")})
	require.True(t, ok)
	assert.Equal(t, done, after)
	assert.Len(t, deliveries, 1)
	assert.Equal(t, StatusCompleted, deliveries[0].Status)
}

func TestFailedJobKeepsError(t *testing.T) {
	m := NewManager(nil)
	st := m.Create("a.txt", "")

	failed, ok := m.Update(st.JobID, Patch{
		Status:  statusPtr(StatusFailed),
		Stage:   stagePtr(StageFailed),
		Error:   strPtr("no extractable text"),
		Message: strPtr("Ingestion failed"),
	})
	require.True(t, ok)
	assert.Equal(t, StageFailed, failed.Stage)
	assert.Equal(t, "no extractable text", failed.Error)
	assert.Equal(t, "Ingestion failed", failed.Message)
	assert.NotNil(t, failed.CompletedAt)
}

func TestSubscribeOrderingAndTerminalCount(t *testing.T) {
	m := NewManager(nil)
	st := m.Create("a.txt", "")

	var deliveries []State
	unsub, ok := m.Subscribe(st.JobID, func(s State) { deliveries = append(deliveries, s) })
	require.True(t, ok)
	defer unsub()

	stages := []Stage{StageParsing, StageChunking, StageEmbedding, StageStoring}
	for _, stage := range stages {
		_, ok := m.Update(st.JobID, Patch{Status: statusPtr(StatusRunning), Stage: stagePtr(stage)})
		require.True(t, ok)
	}
	_, ok = m.Update(st.JobID, Patch{Status: statusPtr(StatusCompleted), Stage: stagePtr(StageCompleted)})
	require.True(t, ok)

	require.Len(t, deliveries, 5)
	terminal := 0
	for i, d := range deliveries {
		if i > 0 {
			assert.True(t, d.UpdatedAt.After(deliveries[i-1].UpdatedAt))
		}
		if d.Status.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
	assert.Equal(t, StageCompleted, deliveries[4].Stage)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := NewManager(nil)
	st := m.Create("a.txt", "")

	count := 0
	unsub, ok := m.Subscribe(st.JobID, func(State) { count++ })
	require.True(t, ok)

	m.Update(st.JobID, Patch{Stage: stagePtr(StageParsing)})
	unsub()
	unsub() // double call is safe
	m.Update(st.JobID, Patch{Stage: stagePtr(StageChunking)})

	assert.Equal(t, 1, count)
}

func TestSubscribeUnknownJob(t *testing.T) {
	m := NewManager(nil)
	unsub, ok := m.Subscribe("nope", func(State) {})
	assert.False(t, ok)
	assert.NotPanics(t, func() { unsub() })
}

func TestConcurrentSubscribersAllSeeTerminal(t *testing.T) {
	m := NewManager(nil)
	st := m.Create("a.txt", "")

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	got := make([]int, n)

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := make(chan struct{})
			unsub, ok := m.Subscribe(st.JobID, func(s State) {
				mu.Lock()
				got[i]++
				mu.Unlock()
				if s.Status.Terminal() {
					close(done)
				}
			})
			if !assert.True(t, ok) {
				return
			}
			defer unsub()
			<-done
		}()
	}

	// give every goroutine a chance to subscribe before updating
	for {
		m.mu.RLock()
		subscribed := len(m.jobs[st.JobID].listeners)
		m.mu.RUnlock()
		if subscribed == n {
			break
		}
		time.Sleep(time.Millisecond)
	}

	m.Update(st.JobID, Patch{Status: statusPtr(StatusRunning), Stage: stagePtr(StageParsing)})
	m.Update(st.JobID, Patch{Status: statusPtr(StatusCompleted), Stage: stagePtr(StageCompleted)})
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, 2, got[i])
	}
}
