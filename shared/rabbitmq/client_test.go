package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestTopology(t *testing.T) {
	top := Topology{Exchange: "payments", Queue: "payments.webhooks", Prefetch: 10}

	assert.NoError(t, top.validate())
	assert.Equal(t, "payments.webhooks", top.routingKey())
	assert.Equal(t, "payments.webhooks.dead", top.DeadLetterQueue())
	assert.Equal(t, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": "payments.webhooks.dead",
	}, top.queueArgs())

	top.RoutingKey = "stripe"
	assert.Equal(t, "stripe", top.routingKey())
}

func TestTopology_Validate(t *testing.T) {
	assert.Error(t, Topology{}.validate())
	assert.Error(t, Topology{Queue: "q", Prefetch: -1}.validate())
}
