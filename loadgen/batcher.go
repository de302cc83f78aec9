// Package loadgen drives a stress run end to end: funding the sub-account
// fleet, building and signing per-sender transaction queues, submitting
// them in batched JSON-RPC requests and collecting per-block statistics.
package loadgen

// GenerateBatches partitions items into contiguous runs of at most size
// elements; their concatenation equals items. A non-positive size yields no
// batches.
func GenerateBatches[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
