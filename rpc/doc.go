/*
Package rpc emulates request/reply over the broker.

A Correlator owns one subscription to the response topic shared by every call it
makes. Each Call registers an outstanding record under a fresh correlation id,
publishes the request and waits for the routing loop to hand it the matching
response, or for its deadline. A response is delivered at most once and never
after the caller's deadline; anything else is dropped.

A Responder is the other side: it consumes requests under a consumer group, runs
them through an Executor and publishes the outcome keyed by correlation id.
*/
package rpc
