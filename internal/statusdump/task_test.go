package statusdump

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/helmsman/internal/accessor"
	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/internal/metrics"
	"github.com/arloliu/helmsman/memstore"
	"github.com/arloliu/helmsman/types"
)

type gauges struct {
	*metrics.NopMetrics
	live    atomic.Int64
	pending atomic.Int64
}

func (g *gauges) RecordLiveInstances(count int)   { g.live.Store(int64(count)) }
func (g *gauges) RecordPendingMessages(count int) { g.pending.Store(int64(count)) }

func seed(t *testing.T, c *memstore.Client) {
	t.Helper()
	ctx := t.Context()
	for _, p := range []string{
		"/c/LIVEINSTANCES/n1",
		"/c/LIVEINSTANCES/n2",
		"/c/INSTANCES/n1/MESSAGES/m1",
		"/c/INSTANCES/n1/MESSAGES/m2",
		"/c/INSTANCES/n2/HEALTHREPORT/heartbeat",
	} {
		_, err := c.Put(ctx, p, []byte("{}"), types.Persistent)
		require.NoError(t, err)
	}
}

func TestTask_Collect(t *testing.T) {
	c := memstore.NewBackend().NewClient()
	t.Cleanup(func() { _ = c.Close() })
	seed(t, c)

	task := New(accessor.New(c), "c", "n1", c.SessionID, time.Hour, nil, nil)
	require.Equal(t, types.RoleControllerOnly, task.Role())
	require.Equal(t, TaskName, task.Name())

	status, err := task.Collect(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"n1", "n2"}, status.LiveInstances)
	require.Equal(t, map[string]int{"n1": 2}, status.PendingMessages)
	require.Equal(t, c.SessionID(), status.SessionID)
}

func TestTask_DumpWritesStatusAndMetrics(t *testing.T) {
	c := memstore.NewBackend().NewClient()
	t.Cleanup(func() { _ = c.Close() })
	seed(t, c)

	collector := &gauges{NopMetrics: metrics.NewNop()}

	task := New(accessor.New(c), "c", "n1", c.SessionID, time.Hour, logging.NewTest(t), collector)
	require.NoError(t, task.Start(t.Context()))
	t.Cleanup(func() { _ = task.Stop() })

	require.Eventually(t, func() bool {
		_, err := c.Get(t.Context(), "/c/CONTROLLER/STATUSUPDATES")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	entry, err := c.Get(t.Context(), "/c/CONTROLLER/STATUSUPDATES")
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.Unmarshal(entry.Value, &status))
	require.Equal(t, "n1", status.Controller)
	require.Len(t, status.LiveInstances, 2)

	require.Eventually(t, func() bool {
		return collector.live.Load() == 2 && collector.pending.Load() == 2
	}, time.Second, 10*time.Millisecond)
}
