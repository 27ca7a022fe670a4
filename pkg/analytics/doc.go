// Package analytics defines the sink the engine reports its decisions to.
//
// Every component emits a structured event (name plus property map) at each
// decision point: trials starting and converting, limits being hit, ads
// being shown or blocked, experiment assignments and conversions. The sink's
// transport, batching, and backend are the host application's concern; the
// engine only calls Track and never blocks on or fails because of it.
package analytics
