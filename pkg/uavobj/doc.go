// Package uavobj defines the shared object model consumed by the
// telemetry dispatch core: object and registry contracts, per-object
// metadata with independent transmit and logging update modes, change
// notifications, and the bounded event queues they are delivered on.
//
// The package carries no store implementation; memstore provides an
// in-memory one for simulation and tests.
package uavobj
