package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSONRoundTrip(t *testing.T) {
	e := NewEvent(EventReporting, "worker-1", map[string]interface{}{"task_id": "t1", "run_id": float64(0)})

	data, err := e.ToJSON()
	require.NoError(t, err)

	decoded, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, e.Type, decoded.Type)
	assert.Equal(t, e.WorkerID, decoded.WorkerID)
	assert.Equal(t, e.Data, decoded.Data)
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestNewRedisPubSub(t *testing.T) {
	p := NewRedisPubSub(nil)
	assert.NotNil(t, p)
	var _ Publisher = p
}
