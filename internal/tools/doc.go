// Package tools tracks the correlation between tool invocations and their
// asynchronous results.
//
// An assistant turn that invokes a tool carries a tool_use block with a
// unique id; the result arrives later in a user-role message as a
// tool_result block referencing that id. The Tracker keeps one entry per id:
//
//	pending   — tool_use seen, no result yet
//	completed — result received (at most once, never reverted)
//
// Duplicate tool_use ids and results for unknown ids are dropped with a
// warning rather than failing the stream.
package tools
