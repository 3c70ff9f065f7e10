// Package api is the thin HTTP client for the two gateway endpoints the
// console consumes: the per-streaming-id event stream and the persisted
// message history used for replay. Everything else about the gateway API is
// out of scope here.
package api
