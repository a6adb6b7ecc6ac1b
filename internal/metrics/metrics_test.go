package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/hub"
)

func TestMetrics_ObservesHub(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.GroupCreated()
	m.Broadcast(hub.TargetGroup, hub.TypeReactionAdded, hub.Delivery{Targets: 3, Delivered: 2, Failed: 1})
	m.ReactionToggled(domain.OutcomeAdded)
	m.ReactionToggled(domain.OutcomeRemoved)
	m.ReactionToggled(domain.OutcomeRemoved)

	require.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ActiveGroups))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("group", "reaction_added")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailures.WithLabelValues("group", "reaction_added")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.ReactionToggles.WithLabelValues("removed")))
}

func TestMetrics_ExportsLogSampling(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	mfs, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	require.Contains(t, names, "chat_log_entries_sampled_out_total")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.Broadcast(hub.TargetAll, hub.TypeAck, hub.Delivery{Delivered: 1})
	m.MessageSent()
}
