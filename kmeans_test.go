package keycluster

import (
	"math"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestKMeansSeparatesBlobs(t *testing.T) {
	centers := [][]float64{{0, 0}, {20, 0}, {0, 20}}
	points := blobs(centers, 10, 0.5, 3)

	result := kMeans(points, 3, 10, 42)
	if got := distinctLabels(result.Labels); got != 3 {
		t.Fatalf("got %d clusters, want 3", got)
	}
	for c := 0; c < 3; c++ {
		first := result.Labels[c*10]
		for i := c * 10; i < (c+1)*10; i++ {
			if result.Labels[i] != first {
				t.Errorf("blob %d split: point %d has label %d, want %d", c, i, result.Labels[i], first)
			}
		}
	}
	if rows, cols := result.Centers.Dims(); rows != 3 || cols != 2 {
		t.Errorf("centers are %dx%d, want 3x2", rows, cols)
	}
}

func TestKMeansDeterministic(t *testing.T) {
	points := blobs([][]float64{{0, 0}, {3, 3}, {6, 0}}, 15, 1.5, 9)

	a := kMeans(points, 4, 5, 123)
	b := kMeans(points, 4, 5, 123)
	if !reflect.DeepEqual(a.Labels, b.Labels) {
		t.Error("same seed produced different labels")
	}
	if a.Inertia != b.Inertia {
		t.Errorf("inertia %v != %v", a.Inertia, b.Inertia)
	}
}

func TestKMeansMoreRestartsNeverWorse(t *testing.T) {
	points := blobs([][]float64{{0, 0}, {3, 3}, {6, 0}, {9, 3}}, 10, 1.2, 5)

	one := kMeans(points, 4, 1, 7)
	many := kMeans(points, 4, 10, 7)
	if many.Inertia > one.Inertia+1e-9 {
		t.Errorf("10 restarts inertia %v worse than 1 restart %v", many.Inertia, one.Inertia)
	}
}

func TestKMeansClampsK(t *testing.T) {
	points := mat.NewDense(3, 1, []float64{0, 5, 10})
	result := kMeans(points, 10, 1, 1)
	if rows, _ := result.Centers.Dims(); rows != 3 {
		t.Errorf("got %d centers, want 3", rows)
	}
	if result.Inertia != 0 {
		t.Errorf("inertia = %v, want 0", result.Inertia)
	}
}

func TestAssignPointsToClusters(t *testing.T) {
	points := mat.NewDense(4, 1, []float64{0, 1, 9, 10})
	centroids := mat.NewDense(2, 1, []float64{0.5, 9.5})

	labels, inertia := assignPointsToClusters(points, centroids)
	if want := []int{0, 0, 1, 1}; !reflect.DeepEqual(labels, want) {
		t.Errorf("labels = %v, want %v", labels, want)
	}
	if math.Abs(inertia-1) > 1e-12 {
		t.Errorf("inertia = %v, want 1", inertia)
	}
}

func TestUpdateCentroidsRefillsEmptyCluster(t *testing.T) {
	points := mat.NewDense(3, 1, []float64{0, 1, 10})
	centroids := updateCentroids(points, []int{0, 0, 0}, 2)

	if got := centroids.At(0, 0); math.Abs(got-11.0/3) > 1e-12 {
		t.Errorf("centroid 0 = %v, want %v", got, 11.0/3)
	}
	if got := centroids.At(1, 0); got != 10 {
		t.Errorf("empty centroid = %v, want farthest point 10", got)
	}
}
