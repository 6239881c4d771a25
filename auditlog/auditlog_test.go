package auditlog

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironclad.dev/dpm/model"
)

func entry(integration uuid.UUID, mapping *uuid.UUID, status model.SyncStatus, at time.Time) *model.JiraSyncLog {
	return &model.JiraSyncLog{
		IntegrationID: integration,
		MappingID:     mapping,
		SyncType:      model.SyncPush,
		Status:        status,
		ItemsSynced:   1,
		DurationMS:    25,
		Timestamp:     at,
	}
}

func testRecorder(t *testing.T, r Recorder) {
	ctx := context.Background()
	integration := uuid.New()
	other := uuid.New()
	mappingID := uuid.New()
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.Record(ctx, entry(integration, nil, model.SyncSuccess, base)))
	require.NoError(t, r.Record(ctx, entry(integration, &mappingID, model.SyncPartial, base.Add(time.Hour))))
	require.NoError(t, r.Record(ctx, entry(other, nil, model.SyncFailed, base.Add(2*time.Hour))))

	all, err := r.ListByIntegration(ctx, integration, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	windowed, err := r.ListByIntegration(ctx, integration, base.Add(30*time.Minute), base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, model.SyncPartial, windowed[0].Status)

	byMapping, err := r.ListByMapping(ctx, mappingID)
	require.NoError(t, err)
	require.Len(t, byMapping, 1)
	assert.Equal(t, model.SyncPartial, byMapping[0].Status)
}

func TestMemoryRecorder(t *testing.T) {
	testRecorder(t, NewMemory())
}

func TestBoltRecorder(t *testing.T) {
	r, err := OpenBolt(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer r.Close()
	testRecorder(t, r)
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	m := NewMemory()
	e := &model.JiraSyncLog{IntegrationID: uuid.New(), SyncType: model.SyncWebhook, Status: model.SyncSuccess}
	require.NoError(t, m.Record(context.Background(), e))
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestConcurrentAppendsKeepOrder(t *testing.T) {
	m := NewMemory()
	integration := uuid.New()
	var wg sync.WaitGroup
	origins := make([]uuid.UUID, 4)
	for g := 0; g < 4; g++ {
		origins[g] = uuid.New()
		wg.Add(1)
		go func(origin uuid.UUID) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				e := entry(integration, &origin, model.SyncSuccess, time.Now().UTC())
				e.ItemsSynced = i
				_ = m.Record(context.Background(), e)
			}
		}(origins[g])
	}
	wg.Wait()

	all, err := m.ListByIntegration(context.Background(), integration, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 200)

	// Each origin's entries come back in the order that origin appended them.
	for _, origin := range origins {
		seq, err := m.ListByMapping(context.Background(), origin)
		require.NoError(t, err)
		require.Len(t, seq, 50)
		for i, e := range seq {
			assert.Equal(t, i, e.ItemsSynced)
		}
	}
}

func TestSummarize(t *testing.T) {
	entries := []*model.JiraSyncLog{
		{SyncType: model.SyncPush, Status: model.SyncSuccess, DurationMS: 10},
		{SyncType: model.SyncPull, Status: model.SyncSuccess, DurationMS: 30},
		{SyncType: model.SyncPush, Status: model.SyncFailed, DurationMS: 20},
	}
	s := Summarize(entries)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.ByStatus[model.SyncSuccess])
	assert.Equal(t, 2, s.ByType[model.SyncPush])
	assert.Equal(t, 20*time.Millisecond, s.AvgDuration)

	assert.Equal(t, 0, Summarize(nil).Total)
}
