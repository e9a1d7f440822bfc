package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

func TestHubFlushesWhenBatchFull(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(fetchDone("acme.example"))
	hub.Emit(fetchDone("globex.example"))

	require.Eventually(t, func() bool {
		b := sink.batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesOnTimer(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 50, MaxBatchWait: 20 * time.Millisecond}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(fetchDone("acme.example"))
	require.Eventually(t, func() bool { return len(sink.batches()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(fetchDone("acme.example"))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.batches(), 1)
	require.True(t, sink.closed)

	hub.Emit(fetchDone("late.example"))
	require.Len(t, sink.batches(), 1)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	for range 10 {
		hub.Emit(fetchDone("acme.example"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Stage: StageRunStart})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.batches())

	var nilHub *Hub
	nilHub.Emit(fetchDone("acme.example"))
	require.NoError(t, nilHub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	now := time.Now()
	tests := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{name: "run start", evt: Event{RunID: id, TS: now, Stage: StageRunStart}},
		{name: "missing run id", evt: Event{TS: now, Stage: StageRunStart}, wantErr: true},
		{name: "missing ts", evt: Event{RunID: id, Stage: StageRunDone}, wantErr: true},
		{name: "fetch without site", evt: Event{RunID: id, TS: now, Stage: StageFetchStart}, wantErr: true},
		{name: "fetch done without class", evt: Event{RunID: id, TS: now, Stage: StageFetchDone, Site: "a"}, wantErr: true},
		{name: "unchanged change event", evt: Event{RunID: id, TS: now, Stage: StageChange, Change: monitor.ChangeUnchanged}, wantErr: true},
		{name: "modified change event", evt: Event{RunID: id, TS: now, Stage: StageChange, Change: monitor.ChangeModified}},
		{name: "negative duration", evt: Event{RunID: id, TS: now, Stage: StageRunDone, Dur: -1}, wantErr: true},
		{name: "unknown stage", evt: Event{RunID: id, TS: now, Stage: "JOB_HEARTBEAT"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.evt.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status2xx, ClassifyStatus(204))
	require.Equal(t, Status3xx, ClassifyStatus(301))
	require.Equal(t, Status4xx, ClassifyStatus(429))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}

type recordingSink struct {
	mu     sync.Mutex
	got    [][]Event
	closed bool
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, append([]Event(nil), batch...))
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.got...)
}

func fetchDone(site string) Event {
	return Event{
		RunID:       uuid.New(),
		TS:          time.Now(),
		Stage:       StageFetchDone,
		Site:        site,
		StatusClass: Status2xx,
		Bytes:       512,
	}
}
