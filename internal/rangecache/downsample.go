package rangecache

import "github.com/sexxyrexxy/mycelium-sub000/internal/models"

// Downsample reduces samples to at most budget points by fixed-size
// contiguous bucketing: each bucket collapses to one point whose value is the
// bucket mean and whose timestamp is the middle sample's. Bucket means keep
// amplitude trends without implying interpolation. budget <= 0 disables.
func Downsample(samples []models.Sample, budget int) []models.Sample {
	if budget <= 0 || len(samples) <= budget {
		return samples
	}

	bucketSize := (len(samples) + budget - 1) / budget
	out := make([]models.Sample, 0, budget)

	for start := 0; start < len(samples); start += bucketSize {
		end := start + bucketSize
		if end > len(samples) {
			end = len(samples)
		}
		bucket := samples[start:end]

		var sum float64
		for _, s := range bucket {
			sum += s.Value
		}
		mid := bucket[len(bucket)/2]
		out = append(out, models.Sample{
			Timestamp: mid.Timestamp,
			Value:     sum / float64(len(bucket)),
		})
	}
	return out
}
