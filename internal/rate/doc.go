// Package rate implements fixed-window request counters.
//
// # Window semantics
//
// The first hit for a key opens a window of Config.Window; every hit inside the
// window increments the counter, and a hit that pushes the count past
// Config.Max is denied. The window is not extended by later hits.
//
// Two backends share the semantics:
//   - [RedisLimiter]: INCR + EXPIRE on first hit, safe across instances.
//   - [MemoryLimiter]: in-process map with inline cleanup, single instance only.
//
// Keys are namespaced with Config.Prefix so login and API budgets never collide.
package rate
