package cmn

import "time"

// start is fixed once at process init so NanoTime values are comparable
// across the lifetime of the process without re-reading the wall clock.
var start = time.Now()

// NanoTime returns a monotonic nanosecond timestamp, grounded on the
// cmn/mono package referenced from lru.go's throttling logic (mono.NanoTime).
// Used to timestamp collections without the cost or skew risk of
// wall-clock reads.
func NanoTime() int64 {
	return int64(time.Since(start))
}
