// Package mono provides low-level monotonic time.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns a monotonically increasing nanosecond counter.
// It is not wall-clock time and must not be persisted or compared
// across processes.
func NanoTime() int64 { return int64(time.Since(start)) }

// Since is a convenience wrapper over NanoTime for duration deltas.
func Since(t int64) time.Duration { return time.Duration(NanoTime() - t) }
