/*
Package servicebus provides the in-process command table a service consumer dispatches into.
Handlers are bound per concrete command type and run through an ordered middleware chain.
*/
package servicebus
