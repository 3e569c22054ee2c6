// Package ebpubsub contains [Stream], a single-writer, many-reader
// sequence of values where every reader observes every value
// at its own pace.
//
// The broker uses a Stream to expose its subscription registrations,
// so observers can follow topic activity without polling the broker.
package ebpubsub
