/*
Package rabbitmq provides a RabbitMQ adapter for the relay.
Topics map to routing keys on a durable topic exchange. Publishing goes through an
auto-reconnect publisher; each subscription declares its own queue, named after the
consumer group when one is set, so group members share deliveries.
*/
package rabbitmq
