package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew_IsSingleton(t *testing.T) {
	assert.Same(t, New(), New())
}

func TestRecordDispense_CountsFloorRejections(t *testing.T) {
	m := New()
	before := testutil.ToFloat64(m.tankFloorRejects)

	m.RecordDispense(AttributionSession, 5, true, true)
	m.RecordDispense(AttributionNone, 2, false, false)
	m.RecordDispense(AttributionNozzle, 3, false, true)

	assert.Equal(t, before+1, testutil.ToFloat64(m.tankFloorRejects))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.dispenseEvents.WithLabelValues(AttributionNone)), 1.0)
}
