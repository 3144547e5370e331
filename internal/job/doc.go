// Package job turns trace calls into queued jobs and completes them.
//
// The pipeline has four parts:
//   - Ring: bounded FIFO of jobs; each slot moves free -> ready -> consumed
//   - Arena: circular byte allocator over the trace metadata region
//   - Allocator: builds a job from a trace call. Every job starts with a
//     timestamp chunk and an encoded meta info chunk in the metadata region;
//     local payloads are copied there as well
//   - Processor: hands ready jobs to a Sink, releases them in order and
//     invokes the per-client trace done callback for shared-memory jobs
//
// Allocator and Processor share one Ring. Allocation is serialized by the
// allocator; the processor is the single consumer.
package job
