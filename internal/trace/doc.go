// Package trace records what the scheduler does: drain and poll phases, task
// spawn/suspend/complete/fail, reactor registrations and wakeups.
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: nothing is streamed; failures are reported through the failure hook
//   - LevelLoop: drain/poll phase spans
//   - LevelTask: plus task lifecycle points
//   - LevelIO: plus reactor register/ready points
//
// # Storage
//
// StreamTracer writes every event as it happens, RingTracer keeps the last N
// events in memory (tests read it back with Snapshot), MultiTracer fans out.
// Stream output may be text, NDJSON or msgpack; a path ending in ".zst" is
// zstd-compressed.
package trace
