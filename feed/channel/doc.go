// Package channel provides an in-process feed source backed by a Watermill
// Go channel. Buffers published with Inject are handed to the event loop
// through an eventfd, which makes the source usable for simulators and tests.
package channel
