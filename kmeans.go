package keycluster

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// kMeansResult is the best of several k-means restarts.
type kMeansResult struct {
	Labels  []int
	Centers *mat.Dense
	Inertia float64
}

const (
	kMeansMaxIterations = 300
	kMeansTolerance     = 1e-10
)

// kMeans fits k clusters to the rows of data with k-means++ seeding. It runs
// restarts fits from one seeded generator and keeps the lowest inertia.
func kMeans(data *mat.Dense, k, restarts int, seed uint64) kMeansResult {
	n, _ := data.Dims()
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}
	if restarts < 1 {
		restarts = 1
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
	best := kMeansResult{Inertia: math.Inf(1)}
	for range restarts {
		centroids := initializeCentroidsKMeansPlusPlus(data, k, rng)
		result := lloyd(data, centroids)
		if result.Inertia < best.Inertia {
			best = result
		}
	}
	return best
}

// lloyd refines the given centroids until assignments stop changing.
func lloyd(data *mat.Dense, centroids *mat.Dense) kMeansResult {
	n, _ := data.Dims()
	k, _ := centroids.Dims()
	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}

	for iteration := 0; iteration < kMeansMaxIterations; iteration++ {
		newAssignments, _ := assignPointsToClusters(data, centroids)

		converged := true
		for i := range assignments {
			if assignments[i] != newAssignments[i] {
				converged = false
				break
			}
		}
		assignments = newAssignments
		if converged {
			break
		}

		newCentroids := updateCentroids(data, assignments, k)
		change := calculateCentroidChange(centroids, newCentroids)
		centroids = newCentroids
		if change < kMeansTolerance {
			assignments, _ = assignPointsToClusters(data, centroids)
			break
		}
	}

	_, inertia := assignPointsToClusters(data, centroids)
	return kMeansResult{Labels: assignments, Centers: centroids, Inertia: inertia}
}

// initializeCentroidsKMeansPlusPlus seeds k centroids with greedy k-means++:
// each step samples several candidates by squared distance and keeps the one
// that lowers the total potential most.
func initializeCentroidsKMeansPlusPlus(data *mat.Dense, k int, rng *rand.Rand) *mat.Dense {
	n, d := data.Dims()
	centroids := mat.NewDense(k, d, nil)
	trials := 2 + int(math.Log(float64(k)))

	first := rng.IntN(n)
	centroids.SetRow(0, data.RawRowView(first))

	closest := make([]float64, n)
	for j := 0; j < n; j++ {
		closest[j] = sqDist(data.RawRowView(j), data.RawRowView(first))
	}

	candidateDist := make([]float64, n)
	for c := 1; c < k; c++ {
		potential := floats.Sum(closest)
		if potential == 0 {
			// All remaining points coincide with a centroid.
			centroids.SetRow(c, data.RawRowView(rng.IntN(n)))
			continue
		}

		bestCandidate := -1
		bestPotential := math.Inf(1)
		var bestDist []float64
		for range trials {
			candidate := sampleByWeight(closest, potential, rng)
			point := data.RawRowView(candidate)
			total := 0.0
			for j := 0; j < n; j++ {
				candidateDist[j] = math.Min(closest[j], sqDist(data.RawRowView(j), point))
				total += candidateDist[j]
			}
			if total < bestPotential {
				bestPotential = total
				bestCandidate = candidate
				bestDist = append(bestDist[:0], candidateDist...)
			}
		}
		centroids.SetRow(c, data.RawRowView(bestCandidate))
		copy(closest, bestDist)
	}

	return centroids
}

func sampleByWeight(weights []float64, total float64, rng *rand.Rand) int {
	target := rng.Float64() * total
	cumWeight := 0.0
	for j, w := range weights {
		cumWeight += w
		if cumWeight >= target && w > 0 {
			return j
		}
	}
	for j := len(weights) - 1; j >= 0; j-- {
		if weights[j] > 0 {
			return j
		}
	}
	return 0
}

// assignPointsToClusters assigns each point to its nearest centroid and returns
// the assignments with the resulting inertia.
func assignPointsToClusters(data *mat.Dense, centroids *mat.Dense) ([]int, float64) {
	n, _ := data.Dims()
	k, _ := centroids.Dims()
	assignments := make([]int, n)
	inertia := 0.0

	for i := 0; i < n; i++ {
		point := data.RawRowView(i)
		minDist := math.Inf(1)
		bestCluster := 0
		for j := 0; j < k; j++ {
			dist := sqDist(point, centroids.RawRowView(j))
			if dist < minDist {
				minDist = dist
				bestCluster = j
			}
		}
		assignments[i] = bestCluster
		inertia += minDist
	}

	return assignments, inertia
}

// updateCentroids recalculates cluster means. An empty cluster takes the point
// farthest from its current mean.
func updateCentroids(data *mat.Dense, assignments []int, k int) *mat.Dense {
	n, d := data.Dims()
	centroids := mat.NewDense(k, d, nil)
	counts := make([]int, k)

	for i := 0; i < n; i++ {
		floats.Add(centroids.RawRowView(assignments[i]), data.RawRowView(i))
		counts[assignments[i]]++
	}

	for c := 0; c < k; c++ {
		if counts[c] > 0 {
			floats.Scale(1/float64(counts[c]), centroids.RawRowView(c))
		}
	}

	taken := make(map[int]bool)
	for c := 0; c < k; c++ {
		if counts[c] > 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i := 0; i < n; i++ {
			if taken[i] || counts[assignments[i]] <= 1 {
				continue
			}
			dist := sqDist(data.RawRowView(i), centroids.RawRowView(assignments[i]))
			if dist > farDist {
				far, farDist = i, dist
			}
		}
		if far >= 0 {
			taken[far] = true
			centroids.SetRow(c, data.RawRowView(far))
		}
	}

	return centroids
}

// calculateCentroidChange returns the total squared movement of the centroids.
func calculateCentroidChange(oldCentroids, newCentroids *mat.Dense) float64 {
	k, _ := oldCentroids.Dims()
	total := 0.0
	for i := 0; i < k; i++ {
		total += sqDist(oldCentroids.RawRowView(i), newCentroids.RawRowView(i))
	}
	return total
}

func sqDist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

// distinctLabels counts the clusters that actually received points.
func distinctLabels(labels []int) int {
	seen := make(map[int]struct{}, len(labels))
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}
