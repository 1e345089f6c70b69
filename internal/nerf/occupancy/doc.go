// Package occupancy owns the cascaded density grid and its packed bitfield.
//
// Responsibilities: grid allocation per cascade, periodic re-estimation
// against a density field (full sweep during cold start, stochastic sweep
// afterwards), visibility marking, bitfield thresholding, and snapshot
// persistence through a SnapshotStore.
//
// Marchers only ever read the bitfield through Grid.Read; every mutation
// takes the grid's write lock, so an update runs with exclusive access.
// No SQL is allowed in this package; see storage/sqlite.
package occupancy
