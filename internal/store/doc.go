// Package store persists aggregated conversation transcripts in a local
// SQLite database.
//
// The console mirrors each followed session's messages so history survives
// restarts and the aggregator's bulk-rebuild path has a real replay source.
// Messages are stored flat in arrival order (grouping is a display-time
// operation); content blocks are serialized as JSON in the same shape the
// wire protocol uses.
package store
