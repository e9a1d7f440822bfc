// Package progress carries scrape-run progress from the scraper to pluggable
// sinks. The Hub never blocks the emitter; events are batched on a background
// goroutine and dropped with a warning when the buffer is full.
package progress
