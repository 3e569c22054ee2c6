// Package ebchan contains [Channel], a FIFO queue with a fixed or unbounded capacity.
//
// Unlike a native Go channel, a [Channel] can be unbounded,
// and its put and get operations are first-class values:
// [*Channel.Put] and [*Channel.Get] never block,
// and instead return an operation whose Done channel
// is closed once the operation resolves.
// This lets a single caller start many puts across many channels
// and then wait for all of them together.
//
// Waiting puts are admitted, and waiting gets are served,
// strictly in the order they were submitted.
package ebchan
