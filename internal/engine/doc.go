// Package engine supervises the external computation engine process.
//
// The engine is started lazily: EnsureRunning is called right before each job
// connects, and spawns the engine only when no process is tracked or the
// tracked one has exited. The process handle moves through three states:
//
//	absent  -> running   (spawn)
//	running -> exited    (process exits on its own)
//	exited  -> running   (next EnsureRunning respawns)
//	any     -> absent    (Shutdown)
//
// Spawn failures are returned to the caller wrapped in ErrSpawn and are never
// retried here. Shutdown sends SIGTERM, waits for the grace period, then
// sends SIGKILL.
package engine
