package backend

import (
	"fmt"
	"math"
	"strings"
)

// Pooling selects how per-token vectors collapse into one sequence vector.
type Pooling string

const (
	PoolCLS  Pooling = "cls"
	PoolMean Pooling = "mean"
	PoolLast Pooling = "last"
)

// ParsePooling validates a pooling name; empty means cls.
func ParsePooling(s string) (Pooling, error) {
	switch p := Pooling(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PoolCLS, nil
	case PoolCLS, PoolMean, PoolLast:
		return p, nil
	}
	return "", fmt.Errorf("unknown pooling %q (want cls|mean|last)", s)
}

// Normalize scales v to unit L2 norm in place. Zero vectors are left alone.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// Cosine returns the cosine similarity of a and b (0 when either is zero).
func Cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
