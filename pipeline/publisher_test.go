package pipeline

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/robustfit/robust"
)

func TestNewPublisher(t *testing.T) {
	publisher := NewPublisher(nil, "")
	if publisher == nil {
		t.Fatal("NewPublisher() returned nil")
	}

	if publisher.publishPrefix != "robustfit" {
		t.Errorf("Default prefix = %s, want robustfit", publisher.publishPrefix)
	}

	if publisher.qos != 0 {
		t.Errorf("Default QoS = %d, want 0", publisher.qos)
	}

	if !publisher.retain {
		t.Error("Default retain should be true")
	}

	if got := publisher.Topic("abc", EventResult); got != "robustfit/abc/result" {
		t.Errorf("Topic() = %s, want robustfit/abc/result", got)
	}
}

func TestPublisher_PublishesRunEvents(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	publisher := NewPublisher(client, "lab")

	publisher.RunStarted("r1", robust.Status{Method: robust.MSAC, StateName: robust.Running.String()})
	publisher.RunProgressed("r1", robust.Status{Method: robust.MSAC, Iteration: 10, Progress: 0.5})
	publisher.RunFinished("r1", robust.Status{Method: robust.MSAC, StateName: robust.Converged.String(), Iteration: 20})
	require.NoError(t, publisher.PublishResult(&Result{ID: "r1", Model: ModelAffine, NumInliers: 30}))

	msgs := client.PublishedUnder("lab/r1/")
	require.Len(t, msgs, 4)

	wantTopics := []string{"lab/r1/start", "lab/r1/progress", "lab/r1/end", "lab/r1/result"}
	wantRetain := []bool{true, false, true, true}
	for i, msg := range msgs {
		assert.Equal(t, wantTopics[i], msg.Topic)
		assert.Equal(t, wantRetain[i], msg.Retain, msg.Topic)
	}

	var progress Event
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &progress))
	assert.Equal(t, "r1", progress.RunID)
	assert.Equal(t, EventProgress, progress.Kind)
	require.NotNil(t, progress.Status)
	assert.Equal(t, 10, progress.Status.Iteration)
	assert.Equal(t, robust.MSAC, progress.Status.Method)

	var result Event
	require.NoError(t, json.Unmarshal(msgs[3].Payload, &result))
	require.NotNil(t, result.Result)
	assert.Equal(t, 30, result.Result.NumInliers)
	assert.Nil(t, result.Status)

	last, ok := publisher.LastEvent("r1")
	require.True(t, ok)
	assert.Equal(t, EventResult, last.Kind)

	publisher.Forget("r1")
	_, ok = publisher.LastEvent("r1")
	assert.False(t, ok)
}

func TestPublisher_QoSAndRetain(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	publisher := NewPublisher(client, "")
	publisher.SetQoS(1)
	publisher.SetQoS(5) // ignored
	publisher.SetRetain(false)

	require.NoError(t, publisher.PublishResult(&Result{ID: "q"}))
	msgs := client.Published()
	require.Len(t, msgs, 1)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.False(t, msgs[0].Retain)
}

func TestPublisher_NotConnected(t *testing.T) {
	publisher := NewPublisher(nil, "")
	err := publisher.PublishResult(&Result{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	// Events are still recorded for later inspection.
	_, ok := publisher.LastEvent("x")
	assert.True(t, ok)

	client := NewMockClient()
	publisher = NewPublisher(client, "")
	publisher.RunStarted("y", robust.Status{})
	assert.Empty(t, client.Published())
}

func TestPublisher_PublishError(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	client.SetPublishError(errors.New("broker full"))
	publisher := NewPublisher(client, "")

	err := publisher.PublishResult(&Result{ID: "z"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker full")

	// Observer callbacks swallow the error.
	publisher.RunFinished("z", robust.Status{})
}

func TestPublisher_AsRunObserver(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	publisher := NewPublisher(client, "fits")

	ds, err := Generate(GenerateOptions{Model: ModelEuclidean, N: 30, OutlierRatio: 0.2, Noise: 0, Seed: 6})
	require.NoError(t, err)
	res, err := Estimate(ds, testEstimation(robust.RANSAC), WithRunID("obs"), WithObserver(publisher))
	require.NoError(t, err)
	require.NoError(t, publisher.PublishResult(res))

	msgs := client.PublishedUnder("fits/obs/")
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, "fits/obs/start", msgs[0].Topic)
	assert.Equal(t, "fits/obs/end", msgs[len(msgs)-2].Topic)
	assert.Equal(t, "fits/obs/result", msgs[len(msgs)-1].Topic)
}
