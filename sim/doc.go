// Package sim provides the resource-sharing and placement core of the cloud
// simulator.
//
// # Reading Guide
//
// Start with these files to understand the core:
//   - share.go: ShareScheduler, which divides a host's CPU or disk capacity
//     among its guests (strict or oversubscribed)
//   - progress.go: ProgressTracker, which advances a guest's work items by the
//     share its host granted
//   - placement.go: PlacementPolicy, which picks hosts and preempts less
//     important guests when a host is full
//
// # Architecture
//
// Hosts, guests, work items and data items live in a Registry arena and refer
// to each other by ID. A guest's host is an option (Guest.Host), never a
// pointer.
//
// The core never advances time. Every "now" comes from a Clock, which the
// event kernel in sim/datacenter implements; tests use ManualClock. Results
// are pulled: trackers expose finished and failed FIFOs, the placement policy
// exposes admitted and preempted queues, and the caller drains them after
// each event.
//
// Sub-packages:
//   - sim/datacenter/: event heap, datacenter event loop, metrics
//   - sim/workload/: YAML scenarios and synthetic guest generation
//   - sim/trace/: decision trace recording
//
// # Key Interfaces
//
//   - Clock: the kernel's current time and minimum event gap
//   - WorkScheduler: per-guest work item execution (ProgressTracker for CPU,
//     MultiResourceTracker for CPU plus disk I/O)
//   - DiskView: the disks a multi-resource tracker resolves data affinity on
package sim
