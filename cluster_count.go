package keycluster

import (
	"log"
	"math"

	"gonum.org/v1/gonum/mat"
)

// KSelector picks the number of clusters for the rows of points within [minK, maxK].
type KSelector interface {
	SelectK(points *mat.Dense, minK, maxK int) int
}

// searchRange adapts the configured cluster count bounds to the dataset size.
// Small sets search between 2 and 7 clusters, large ones between 5 and 30.
func searchRange(n int, cfg ClusteringConfig) (int, int) {
	minK, maxK := cfg.MinClusters, cfg.MaxClusters
	switch {
	case n <= 200:
		minK, maxK = 2, 7
	case n >= 800:
		minK, maxK = 5, 30
	}
	// Silhouette is only defined for fewer labels than samples.
	if maxK > n-1 {
		maxK = n - 1
	}
	if minK > maxK {
		minK = maxK
	}
	return minK, maxK
}

// SilhouetteSelector fits k-means for every candidate k and keeps the one with
// the highest mean silhouette. Candidates that collapse to a single cluster are
// skipped; when every candidate is skipped it falls back to minK.
type SilhouetteSelector struct {
	Seed     uint64
	Restarts int
}

func (s SilhouetteSelector) SelectK(points *mat.Dense, minK, maxK int) int {
	if maxK <= minK {
		return minK
	}

	bestK := minK
	bestScore := math.Inf(-1)
	found := false
	for k := minK; k <= maxK; k++ {
		result := kMeans(points, k, s.Restarts, s.Seed)
		distinct := distinctLabels(result.Labels)
		n, _ := points.Dims()
		if distinct < 2 || distinct >= n {
			log.Printf("Skipping k=%d: %d effective clusters", k, distinct)
			continue
		}
		score := silhouetteScore(points, result.Labels)
		log.Printf("  k=%d: silhouette=%.4f inertia=%.4f", k, score, result.Inertia)
		if score > bestScore {
			bestScore = score
			bestK = k
			found = true
		}
	}

	if !found {
		log.Printf("No candidate k produced two or more clusters, falling back to k=%d", minK)
		return minK
	}
	log.Printf("Selected optimal k=%d (silhouette %.4f)", bestK, bestScore)
	return bestK
}

// ElbowSelector picks the k after which adding a cluster stops reducing inertia
// by at least Threshold (relative).
type ElbowSelector struct {
	Seed      uint64
	Restarts  int
	Threshold float64
}

func (s ElbowSelector) SelectK(points *mat.Dense, minK, maxK int) int {
	if maxK <= minK {
		return minK
	}
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = 0.1
	}

	prev := kMeans(points, minK, s.Restarts, s.Seed).Inertia
	for k := minK + 1; k <= maxK; k++ {
		if prev == 0 {
			return k - 1
		}
		inertia := kMeans(points, k, s.Restarts, s.Seed).Inertia
		improvement := (prev - inertia) / prev
		log.Printf("  k=%d: inertia=%.4f improvement=%.3f", k, inertia, improvement)
		if improvement < threshold {
			log.Printf("Selected elbow k=%d", k-1)
			return k - 1
		}
		prev = inertia
	}
	return maxK
}

// silhouetteScore returns the mean silhouette coefficient of the labeling using
// euclidean distance. Points alone in their cluster score zero.
func silhouetteScore(points *mat.Dense, labels []int) float64 {
	n, _ := points.Dims()
	if n == 0 {
		return 0
	}

	index := make(map[int]int)
	for _, l := range labels {
		if _, ok := index[l]; !ok {
			index[l] = len(index)
		}
	}
	if len(index) < 2 {
		return 0
	}
	sizes := make([]int, len(index))
	for _, l := range labels {
		sizes[index[l]]++
	}

	sums := make([]float64, len(index))
	total := 0.0
	for i := 0; i < n; i++ {
		for c := range sums {
			sums[c] = 0
		}
		point := points.RawRowView(i)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sums[index[labels[j]]] += math.Sqrt(sqDist(point, points.RawRowView(j)))
		}

		own := index[labels[i]]
		if sizes[own] <= 1 {
			continue
		}
		a := sums[own] / float64(sizes[own]-1)
		b := math.Inf(1)
		for c, sum := range sums {
			if c == own {
				continue
			}
			b = math.Min(b, sum/float64(sizes[c]))
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(n)
}
