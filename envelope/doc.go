/*
Package envelope is the wire codec for relay messages.

Command envelopes are flat JSON objects: the message_type tag sits next to the
payload fields, e.g.

	{"message_type":"add-device","serial_number":"SN1","name":"Lamp","type":"light","user_id":"U1"}

Request and Response carry the device-command RPC exchange. A response whose body
is not a JSON envelope is still accepted when the broker message key holds the
correlation id.
*/
package envelope
