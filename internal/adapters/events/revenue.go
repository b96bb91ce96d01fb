package events

import (
	"log"

	"sautihub-sacco/internal/core/services"
)

// RevenueRoutingKey is the routing key the platform's payout system
// publishes revenue credits under.
const RevenueRoutingKey = "revenue.credited"

// StartRevenueConsumer connects to the broker and binds the revenue bridge
// to the revenue stream. The caller owns the returned consumer and must
// Close it on shutdown.
func StartRevenueConsumer(amqpURL, exchange, queue string, bridge *services.RevenueBridge) (*Consumer, error) {
	consumer, err := NewConsumer(amqpURL)
	if err != nil {
		return nil, err
	}

	bindings := map[string]func([]byte) bool{
		RevenueRoutingKey: bridge.HandleMessage,
	}
	if err := consumer.ConsumeWithBindings(exchange, queue, bindings); err != nil {
		consumer.Close()
		return nil, err
	}

	log.Printf("Revenue consumer bound to %s/%s (%s)", exchange, queue, RevenueRoutingKey)
	return consumer, nil
}
