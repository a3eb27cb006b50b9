package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func TestParseQueueWeights(t *testing.T) {
	assert.Equal(t, map[string]int{"critical": 6, "default": 3, "low": 1},
		ParseQueueWeights("critical=6, default=3,low"))
	assert.Equal(t, map[string]int{"dial": 1}, ParseQueueWeights("dial=abc,,=4"))
	assert.Empty(t, ParseQueueWeights(""))
}

func TestBuildOptions(t *testing.T) {
	assert.Empty(t, buildOptions(EnqueueOptions{}))

	opts := buildOptions(EnqueueOptions{
		TaskID:    "dial:c1:1",
		Queue:     "dialer",
		MaxRetry:  1,
		ProcessIn: time.Second,
		Timeout:   time.Minute,
	})
	var types []asynq.OptionType
	for _, o := range opts {
		types = append(types, o.Type())
	}
	assert.Equal(t, []asynq.OptionType{
		asynq.TaskIDOpt, asynq.QueueOpt, asynq.MaxRetryOpt, asynq.ProcessInOpt, asynq.TimeoutOpt,
	}, types)
	assert.Equal(t, "dial:c1:1", opts[0].Value())
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient("not-a-url")
	assert.Error(t, err)
}
