package dbmap

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				out[mf.GetName()] += m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				out[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[mf.GetName()] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestPoolCollector(t *testing.T) {
	p, _ := newFakePool(t, Config{Name: "metrics", PoolSize: 1})
	ex := NewExecutor(p, Dialect{Bind: BindQuestion})

	c := acquire(t, p)
	_, err := ex.ExecuteNonQuery(context.Background(), c, &PreparedStatement{text: "UPDATE t SET a = 1"}, nil)
	require.NoError(t, err)
	backup, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, backup.IsBackup())

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewPoolCollector(p)))

	values := gatherValues(t, reg)
	assert.Equal(t, 1.0, values["dbmap_pool_backup_created"])
	assert.Equal(t, 2.0, values["dbmap_pool_max_open_connections"])
	assert.Equal(t, 2.0, values["dbmap_pool_in_use_connections"])
	assert.Equal(t, 1.0, values["dbmap_pool_backup_fallbacks_total"])
	assert.GreaterOrEqual(t, values["dbmap_statement_duration_seconds"], 1.0)
}

func TestRegisterMetrics(t *testing.T) {
	db := openTestDB(t, memoryDSN(t))
	reg := prometheus.NewRegistry()

	require.NoError(t, RegisterMetrics(reg, db))
	// 同一组指标不能重复注册
	assert.Error(t, RegisterMetrics(reg, db))

	values := gatherValues(t, reg)
	assert.Contains(t, values, "dbmap_pool_open_connections")
	assert.Equal(t, 0.0, values["dbmap_pool_backup_created"])
}
