package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/robustfit/pipeline"
	"github.com/kwv/robustfit/robust"
)

// TestMQTTServiceConfigLoading tests configuration loading for the service
func TestMQTTServiceConfigLoading(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		shouldError bool
		errorMsg    string
	}{
		{
			name: "valid config",
			configYAML: `mqtt:
  broker: "mqtt://localhost:1883"
  publishPrefix: "lab"
  clientId: "test-client"
  qos: 1
  retain: true

estimation:
  method: MSAC
  threshold: 2
`,
		},
		{
			name: "invalid qos",
			configYAML: `mqtt:
  broker: "mqtt://localhost:1883"
  qos: 5
`,
			shouldError: true,
			errorMsg:    "qos",
		},
		{
			name: "unknown method",
			configYAML: `estimation:
  method: SIMPLEX
`,
			shouldError: true,
			errorMsg:    "SIMPLEX",
		},
	}

	t.Setenv("MQTT_BROKER", "")
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.configYAML), 0o644))

			app, _ := newTestApp(t)
			app.ConfigFile = path
			err := app.loadConfig()
			if tt.shouldError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "mqtt://localhost:1883", app.Config.MQTT.Broker)
			assert.Equal(t, "lab", app.Config.MQTT.PublishPrefix)
			assert.Equal(t, byte(1), app.Config.MQTT.QoS)
			assert.True(t, app.Config.MQTT.Retain)
			assert.Equal(t, robust.MSAC, app.Config.Estimation.Method)
			assert.Equal(t, 2.0, app.Config.Estimation.Robust.Threshold)
		})
	}
}

func TestSetupMQTT_NoBroker(t *testing.T) {
	app, _ := newTestApp(t)
	app.Config.MQTT.Broker = ""

	err := app.setupMQTT()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT broker not configured")
	assert.Nil(t, app.MQTTClient)
	assert.Nil(t, app.Publisher)
}

func TestHandleRequest_PublishesRun(t *testing.T) {
	app, _ := newTestApp(t)
	mock := pipeline.NewMockClient()
	mock.SetConnected(true)
	app.Publisher = pipeline.NewPublisher(mock, "lab")

	ds, err := pipeline.Generate(pipeline.GenerateOptions{Model: pipeline.ModelEuclidean, N: 40, OutlierRatio: 0.25, Noise: 0.1, Seed: 21})
	require.NoError(t, err)
	app.handleRequest(ds, nil)

	run, ok := app.Tracker.Latest()
	require.True(t, ok)
	require.NotNil(t, run.Result)
	assert.Empty(t, run.Result.Error)
	assert.Equal(t, 30, run.Result.NumInliers)

	msgs := mock.PublishedUnder("lab/" + run.ID + "/")
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, app.Publisher.Topic(run.ID, pipeline.EventStart), msgs[0].Topic)

	last := msgs[len(msgs)-1]
	assert.Equal(t, app.Publisher.Topic(run.ID, pipeline.EventResult), last.Topic)
	assert.True(t, last.Retain)

	var ev pipeline.Event
	require.NoError(t, json.Unmarshal(last.Payload, &ev))
	require.NotNil(t, ev.Result)
	assert.Equal(t, run.ID, ev.RunID)
	assert.Equal(t, run.Result.NumInliers, ev.Result.NumInliers)
}

func TestHandleRequest_InvalidPayload(t *testing.T) {
	app, _ := newTestApp(t)
	mock := pipeline.NewMockClient()
	mock.SetConnected(true)
	app.Publisher = pipeline.NewPublisher(mock, "lab")

	app.handleRequest(nil, errors.New("parsing dataset: unexpected EOF"))

	assert.Equal(t, 0, app.Tracker.Len())
	assert.Empty(t, mock.Published())
}

func TestHandleRequest_FailedRunIsTracked(t *testing.T) {
	app, _ := newTestApp(t)
	app.Publisher = pipeline.NewPublisher(nil, "")

	app.handleRequest(&pipeline.Dataset{Model: pipeline.ModelCamera}, nil)

	run, ok := app.Tracker.Latest()
	require.True(t, ok)
	require.NotNil(t, run.Result)
	assert.Equal(t, pipeline.StateInvalid, run.Result.State)

	// Invalid datasets never reach the publisher.
	ev, ok := app.Publisher.LastEvent(run.ID)
	assert.False(t, ok)
	assert.Nil(t, ev)
}
