package metrics

import (
	"testing"
	"time"

	"github.com/cachegrid/rowcache/pkg/table"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorSamplesArenaAndIndexGauges(t *testing.T) {
	tbl := table.New(7, "widgets", time.Second, []table.IndexConfig{
		{ID: 0, Column: "id", Type: table.IndexTypeInt},
	})
	reg := table.NewRegistry([]*table.Table{tbl})

	c := NewCollector(reg)
	c.collect()

	assert.Equal(t, float64(0), testutil.ToFloat64(ArenaBytesUsed.WithLabelValues("widgets")))
	assert.Greater(t, testutil.ToFloat64(ArenaBytesCapacity.WithLabelValues("widgets")), float64(0))
	assert.Equal(t, float64(0), testutil.ToFloat64(HashIndexEntries.WithLabelValues("widgets", "id")))
}
