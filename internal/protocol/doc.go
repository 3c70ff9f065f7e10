// Package protocol defines the typed event model for agent streaming
// sessions and the incremental decoder for their line-framed wire format.
//
// The wire format is newline-delimited text. A line starting with ':' is a
// comment and is discarded; a line of the form
//
//	data: <json>
//
// decodes to exactly one Event, discriminated by its "type" field. Partial
// trailing lines are buffered across chunks, so the decoded event sequence
// is identical no matter how the transport splits the byte stream.
package protocol
