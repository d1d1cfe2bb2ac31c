package util

// Batch splits elements into consecutive slices of batchSize. Every slice but the last has
// exactly batchSize elements. The returned slices share the backing array of elements.
func Batch[T any](elements []T, batchSize int) [][]T {
	total := len(elements)
	totalBatches := (total + batchSize - 1) / batchSize
	batches := make([][]T, 0, totalBatches)
	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batches = append(batches, elements[start:end])
	}
	return batches
}
