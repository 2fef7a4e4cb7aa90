package rabbitmq

import (
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

func TestNewWithAMQPConn_RequiresURL(t *testing.T) {
	_, _, err := NewWithAMQPConn(Config{}, nil)
	if !errors.Is(err, berr.ErrBrokerUnavailable) {
		t.Fatalf("want ErrBrokerUnavailable, got %v", err)
	}
}

func TestDeliveryFromAMQP_StringifiesHeaders(t *testing.T) {
	d := deliveryFromAMQP(amqp.Delivery{
		RoutingKey: "devices",
		Body:       []byte(`{"message_type":"delete-device","device_id":"7"}`),
		Headers:    amqp.Table{"key": "7", "traceparent": "00-abc-def-01", "attempt": int32(2)},
	})

	if d.RoutingKey != "devices" || d.Headers["key"] != "7" || d.Headers["attempt"] != "2" {
		t.Fatalf("delivery = %+v", d)
	}

	if d.Ack == nil {
		t.Fatal("ack must be set")
	}
}

func TestDeliveryFromAMQP_NoHeaders(t *testing.T) {
	if d := deliveryFromAMQP(amqp.Delivery{RoutingKey: "modules"}); d.Headers != nil {
		t.Fatalf("headers = %v", d.Headers)
	}
}
