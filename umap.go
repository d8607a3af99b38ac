package keycluster

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Reducer projects embeddings into a low-dimensional space.
type Reducer interface {
	Reduce(ctx context.Context, vectors [][]float64) (*mat.Dense, error)
}

// UMAPReducer is a neighborhood-graph reduction in the style of UMAP: a fuzzy
// k-nearest-neighbor graph is built in the input space and a low-dimensional
// layout is optimized so that its neighborhoods match.
type UMAPReducer struct {
	Dimensions         int
	Neighbors          int
	MinDist            float64
	Spread             float64
	Epochs             int
	NegativeSampleRate int
	LearningRate       float64
	Seed               uint64
}

// NewUMAPReducer builds a reducer from the clustering config.
func NewUMAPReducer(cfg ClusteringConfig) *UMAPReducer {
	return &UMAPReducer{
		Dimensions: cfg.ReducedDimensions,
		Neighbors:  cfg.NeighborCount,
		MinDist:    cfg.MinDistance,
		Seed:       cfg.RandomState,
	}
}

// graphEdge is one directed edge of the symmetrized neighbor graph.
type graphEdge struct {
	head, tail int
	weight     float64
}

func (r *UMAPReducer) Reduce(ctx context.Context, vectors [][]float64) (*mat.Dense, error) {
	n := len(vectors)
	if n < 2 {
		return nil, &ReductionError{Samples: n, Reason: "need at least 2 samples"}
	}
	d := len(vectors[0])
	if d == 0 {
		return nil, &ReductionError{Samples: n, Reason: "empty vectors"}
	}
	data := mat.NewDense(n, d, nil)
	for i, v := range vectors {
		if len(v) != d {
			return nil, &ReductionError{Samples: n, Reason: fmt.Sprintf("vector %d has %d dimensions, want %d", i, len(v), d)}
		}
		data.SetRow(i, v)
	}

	dims := r.Dimensions
	if dims <= 0 {
		dims = 2
	}
	// Neighbor count must stay valid for small inputs.
	k := min(r.Neighbors, n-1)
	if k < 1 {
		k = min(15, n-1)
	}
	spread := r.Spread
	if spread <= 0 {
		spread = 1.0
	}
	minDist := r.MinDist
	if minDist < 0 {
		minDist = 0
	}
	rng := rand.New(rand.NewPCG(r.Seed, r.Seed^0x9e3779b97f4a7c15))

	knnIdx, knnDist := nearestNeighbors(data, k)
	edges := fuzzyGraph(knnIdx, knnDist)
	a, b := fitCurve(spread, minDist)

	embedding := initialLayout(data, dims, rng)

	epochs := r.Epochs
	if epochs <= 0 {
		epochs = 500
		if n > 10000 {
			epochs = 200
		}
	}
	negRate := r.NegativeSampleRate
	if negRate <= 0 {
		negRate = 5
	}
	lr := r.LearningRate
	if lr <= 0 {
		lr = 1.0
	}

	log.Printf("Reducing %d vectors of %d dimensions to %d (neighbors=%d, min_dist=%.3f, epochs=%d)",
		n, d, dims, k, minDist, epochs)

	if err := optimizeLayout(ctx, embedding, edges, epochs, negRate, lr, a, b, rng); err != nil {
		return nil, err
	}
	return embedding, nil
}

// nearestNeighbors returns, for each row, the indices and euclidean distances of
// its k nearest other rows in ascending distance order. Squared distances come
// from the Gram matrix, computed a block of rows at a time.
func nearestNeighbors(data *mat.Dense, k int) ([][]int, [][]float64) {
	n, d := data.Dims()
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		row := data.RawRowView(i)
		norms[i] = dot(row, row)
	}

	knnIdx := make([][]int, n)
	knnDist := make([][]float64, n)
	const block = 256
	for r0 := 0; r0 < n; r0 += block {
		r1 := min(r0+block, n)
		var gram mat.Dense
		gram.Mul(data.Slice(r0, r1, 0, d), data.T())
		for i := r0; i < r1; i++ {
			idx := make([]int, 0, k)
			dist := make([]float64, 0, k)
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				sq := norms[i] + norms[j] - 2*gram.At(i-r0, j)
				dj := math.Sqrt(math.Max(sq, 0))
				if len(idx) == k && dj >= dist[k-1] {
					continue
				}
				pos := len(idx)
				for pos > 0 && dist[pos-1] > dj {
					pos--
				}
				if len(idx) < k {
					idx = append(idx, 0)
					dist = append(dist, 0)
				}
				copy(idx[pos+1:], idx[pos:len(idx)-1])
				copy(dist[pos+1:], dist[pos:len(dist)-1])
				idx[pos] = j
				dist[pos] = dj
			}
			knnIdx[i] = idx
			knnDist[i] = dist
		}
	}
	return knnIdx, knnDist
}

// fuzzyGraph converts kNN distances into membership strengths and symmetrizes
// them with the fuzzy union a + b - a*b. Both directions of each pair are returned.
func fuzzyGraph(knnIdx [][]int, knnDist [][]float64) []graphEdge {
	n := len(knnIdx)

	meanAll := 0.0
	count := 0
	for i := range knnDist {
		for _, dj := range knnDist[i] {
			meanAll += dj
			count++
		}
	}
	if count > 0 {
		meanAll /= float64(count)
	}

	type pair struct{ from, to int }
	directed := make(map[pair]float64)
	for i := 0; i < n; i++ {
		dists := knnDist[i]
		if len(dists) == 0 {
			continue
		}
		rho, sigma := smoothDistances(dists, meanAll)
		for p, j := range knnIdx[i] {
			w := 1.0
			if delta := dists[p] - rho; delta > 0 && sigma > 0 {
				w = math.Exp(-delta / sigma)
			}
			directed[pair{i, j}] = w
		}
	}

	var edges []graphEdge
	emitted := make(map[pair]bool)
	for i := 0; i < n; i++ {
		for _, j := range knnIdx[i] {
			key := pair{min(i, j), max(i, j)}
			if emitted[key] {
				continue
			}
			emitted[key] = true
			wa := directed[pair{i, j}]
			wb := directed[pair{j, i}]
			w := wa + wb - wa*wb
			if w <= 0 {
				continue
			}
			edges = append(edges, graphEdge{head: i, tail: j, weight: w}, graphEdge{head: j, tail: i, weight: w})
		}
	}
	return edges
}

// smoothDistances finds rho (the nearest non-zero distance) and sigma such that
// the neighbor memberships sum to log2(k).
func smoothDistances(dists []float64, meanAll float64) (float64, float64) {
	const (
		iterations = 64
		tolerance  = 1e-5
		minScale   = 1e-3
	)
	target := math.Log2(float64(len(dists)))

	rho := 0.0
	for _, dj := range dists {
		if dj > 0 {
			rho = dj
			break
		}
	}

	lo, hi, mid := 0.0, math.Inf(1), 1.0
	for range iterations {
		psum := 0.0
		for _, dj := range dists {
			if delta := dj - rho; delta > 0 {
				psum += math.Exp(-delta / mid)
			} else {
				psum += 1
			}
		}
		if math.Abs(psum-target) < tolerance {
			break
		}
		if psum > target {
			hi = mid
			mid = (lo + hi) / 2
		} else {
			lo = mid
			if math.IsInf(hi, 1) {
				mid *= 2
			} else {
				mid = (lo + hi) / 2
			}
		}
	}

	mean := 0.0
	for _, dj := range dists {
		mean += dj
	}
	mean /= float64(len(dists))
	if rho > 0 {
		mid = math.Max(mid, minScale*mean)
	} else {
		mid = math.Max(mid, minScale*meanAll)
	}
	return rho, mid
}

// fitCurve fits a and b of 1/(1+a*x^(2b)) to the target membership curve
// defined by spread and minDist.
func fitCurve(spread, minDist float64) (float64, float64) {
	const samples = 300
	xs := make([]float64, samples)
	ys := make([]float64, samples)
	for i := range xs {
		x := 3 * spread * float64(i) / float64(samples-1)
		xs[i] = x
		if x < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}

	// a and b are optimized in log space to keep them positive.
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			a, b := math.Exp(p[0]), math.Exp(p[1])
			sum := 0.0
			for i, x := range xs {
				diff := 1/(1+a*math.Pow(x, 2*b)) - ys[i]
				sum += diff * diff
			}
			return sum
		},
	}
	settings := &optimize.Settings{
		MajorIterations: 2000,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-12, Iterations: 200},
	}
	result, err := optimize.Minimize(problem, []float64{0, 0}, settings, &optimize.NelderMead{})
	if result == nil || len(result.X) != 2 {
		log.Printf("Curve fit failed (%v), using a=1 b=1", err)
		return 1, 1
	}
	return math.Exp(result.X[0]), math.Exp(result.X[1])
}

// initialLayout projects the data onto its principal components and scales the
// result to [-10, 10]. Missing components are filled with small random values.
func initialLayout(data *mat.Dense, dims int, rng *rand.Rand) *mat.Dense {
	n, d := data.Dims()
	embedding := mat.NewDense(n, dims, nil)

	var pc stat.PC
	var vecs mat.Dense
	components := 0
	if pc.PrincipalComponents(data, nil) {
		pc.VectorsTo(&vecs)
		_, components = vecs.Dims()
		components = min(components, dims)
	}

	if components > 0 {
		means := make([]float64, d)
		for j := 0; j < d; j++ {
			means[j] = stat.Mean(mat.Col(nil, j, data), nil)
		}
		centered := mat.NewDense(n, d, nil)
		centered.Apply(func(i, j int, v float64) float64 { return v - means[j] }, data)
		var proj mat.Dense
		proj.Mul(centered, vecs.Slice(0, d, 0, components))
		for i := 0; i < n; i++ {
			for c := 0; c < components; c++ {
				embedding.Set(i, c, proj.At(i, c))
			}
		}
	}

	maxAbs := 0.0
	for i := 0; i < n; i++ {
		for c := 0; c < components; c++ {
			maxAbs = math.Max(maxAbs, math.Abs(embedding.At(i, c)))
		}
	}
	if maxAbs == 0 {
		components = 0
	}

	for i := 0; i < n; i++ {
		for c := 0; c < dims; c++ {
			if c < components {
				embedding.Set(i, c, embedding.At(i, c)*10/maxAbs+rng.NormFloat64()*1e-4)
			} else {
				embedding.Set(i, c, rng.Float64()*20-10)
			}
		}
	}
	return embedding
}

// optimizeLayout runs the stochastic gradient descent that pulls graph neighbors
// together and pushes negative samples apart.
func optimizeLayout(ctx context.Context, embedding *mat.Dense, edges []graphEdge, epochs, negRate int, lr, a, b float64, rng *rand.Rand) error {
	n, dims := embedding.Dims()
	if len(edges) == 0 {
		return nil
	}

	maxWeight := 0.0
	for _, e := range edges {
		maxWeight = math.Max(maxWeight, e.weight)
	}
	kept := edges[:0:0]
	for _, e := range edges {
		if e.weight >= maxWeight/float64(epochs) {
			kept = append(kept, e)
		}
	}
	edges = kept

	epochsPerSample := make([]float64, len(edges))
	nextSample := make([]float64, len(edges))
	epochsPerNeg := make([]float64, len(edges))
	nextNeg := make([]float64, len(edges))
	for i, e := range edges {
		epochsPerSample[i] = maxWeight / e.weight
		nextSample[i] = epochsPerSample[i]
		epochsPerNeg[i] = epochsPerSample[i] / float64(negRate)
		nextNeg[i] = epochsPerNeg[i]
	}

	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		alpha := lr * (1 - float64(epoch)/float64(epochs))
		current := float64(epoch)

		for i, e := range edges {
			if nextSample[i] > current {
				continue
			}
			head := embedding.RawRowView(e.head)
			tail := embedding.RawRowView(e.tail)

			dsq := sqDist(head, tail)
			gradCoeff := 0.0
			if dsq > 0 {
				gradCoeff = -2 * a * b * math.Pow(dsq, b-1) / (a*math.Pow(dsq, b) + 1)
			}
			for c := 0; c < dims; c++ {
				grad := clip(gradCoeff * (head[c] - tail[c]))
				head[c] += grad * alpha
				tail[c] -= grad * alpha
			}
			nextSample[i] += epochsPerSample[i]

			negSamples := int((current - nextNeg[i]) / epochsPerNeg[i])
			for range negSamples {
				other := rng.IntN(n)
				if other == e.head {
					continue
				}
				neg := embedding.RawRowView(other)
				dsq := sqDist(head, neg)
				gradCoeff := 0.0
				if dsq > 0 {
					gradCoeff = 2 * b / ((0.001 + dsq) * (a*math.Pow(dsq, b) + 1))
				}
				for c := 0; c < dims; c++ {
					grad := 4.0
					if gradCoeff > 0 {
						grad = clip(gradCoeff * (head[c] - neg[c]))
					}
					head[c] += grad * alpha
				}
			}
			nextNeg[i] += float64(negSamples) * epochsPerNeg[i]
		}
	}
	return nil
}

func clip(v float64) float64 {
	return math.Max(-4, math.Min(4, v))
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
