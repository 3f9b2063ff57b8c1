package manager

import (
	"math"
	"sort"
	"strconv"

	"embedd/pkg/types"
)

// sortRanks orders by descending score; ties keep input order.
func sortRanks(ranks []types.Rank) {
	sort.SliceStable(ranks, func(i, j int) bool { return ranks[i].Score > ranks[j].Score })
}

// softmax returns exp-normalized probabilities for logits.
func softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxv))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func (m *Manager) label(i int) string {
	if i < len(m.cfg.Labels) && m.cfg.Labels[i] != "" {
		return m.cfg.Labels[i]
	}
	return "LABEL_" + strconv.Itoa(i)
}

// predictions names and sorts one input's scores, best first.
func (m *Manager) predictions(logits []float32, raw bool) []types.Prediction {
	scores := logits
	if !raw {
		scores = softmax(logits)
	}
	out := make([]types.Prediction, len(scores))
	for i, s := range scores {
		out[i] = types.Prediction{Label: m.label(i), Score: s}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
