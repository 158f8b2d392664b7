package kafka

import (
	"testing"
	"time"

	"github.com/jmehdipour/license-manager/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestConfigFor(t *testing.T) {
	c := ConfigFor(config.KafkaConfig{
		Brokers:        []string{"b1:9092"},
		GroupID:        "dlm",
		CommitInterval: 250,
	}, "dlm.orders", "orders")

	assert.Equal(t, "dlm.orders", c.Topic)
	assert.Equal(t, "dlm-orders", c.GroupID)
	assert.Equal(t, 250*time.Millisecond, c.CommitInterval)

	assert.Equal(t, "dlm", ConfigFor(config.KafkaConfig{}, "t", "").GroupID)
}
