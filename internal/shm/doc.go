// Package shm manages POSIX shared memory for the tracing client.
//
// It provides the two memory capabilities the runtime consumes:
//   - RegionFactory creates and removes the trace metadata region, a fixed
//     size object named after the process id that holds job meta info,
//     timestamps and copies of local trace data.
//   - MemoryValidator resolves shared-memory object names to descriptors and
//     checks that a descriptor refers to typed memory.
//
// On Linux a shared-memory object named "/name" lives at /dev/shm/name and
// typed memory is memory backed by tmpfs.
package shm
