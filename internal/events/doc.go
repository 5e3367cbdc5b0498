// Package events defines the publish/subscribe contract of the live
// position subsystem: the inbound Fix and the outbound events, plus the
// sinks that consume them.
//
// Every outbound event carries a Seq stamped by the pipeline in publish
// order. Time is the instant the pipeline evaluated (the virtual time of a
// replay, the wall or fix time when live) and is excluded from trace
// fingerprints.
package events
