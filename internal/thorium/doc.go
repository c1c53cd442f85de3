// Package thorium implements the core of a distributed actor runtime: a
// per-node engine that spawns actors, routes messages between them with
// location transparency, and schedules their execution across a fixed pool
// of worker goroutines. Application-layer actors, the concrete network
// transport, and CLI parsing are collaborators built on top of this package,
// not part of it.
package thorium
