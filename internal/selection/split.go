package selection

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/justin4957/latency-anomaly-detector/internal/dataset"
)

// Split is a train/test partition of a dataset's rows.
type Split struct {
	Train []dataset.Row
	Test  []dataset.Row
}

// StratifiedSplit holds out ceil(testSize*len(rows)) rows for testing. With
// stratify set, every class contributes to the test set in proportion to its
// size, quotas rounded by largest remainder. The same rows and seed always
// give the same split.
func StratifiedSplit(rows []dataset.Row, testSize float64, seed uint64, stratify bool) Split {
	n := len(rows)
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest > n {
		nTest = n
	}
	rng := rand.New(rand.NewPCG(seed, seed))

	if !stratify {
		perm := rng.Perm(n)
		return partition(rows, perm[:nTest], perm[nTest:])
	}

	classes := make(map[int][]int)
	for i, r := range rows {
		classes[r.Anomaly] = append(classes[r.Anomaly], i)
	}
	labels := make([]int, 0, len(classes))
	for label := range classes {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	quotas := make(map[int]int, len(labels))
	type remainder struct {
		label int
		frac  float64
	}
	rems := make([]remainder, 0, len(labels))
	assigned := 0
	for _, label := range labels {
		exact := float64(nTest) * float64(len(classes[label])) / float64(n)
		quotas[label] = int(math.Floor(exact))
		assigned += quotas[label]
		rems = append(rems, remainder{label, exact - math.Floor(exact)})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < nTest; i = (i + 1) % len(rems) {
		label := rems[i].label
		if quotas[label] < len(classes[label]) {
			quotas[label]++
			assigned++
		}
	}

	var test, train []int
	for _, label := range labels {
		idx := classes[label]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		test = append(test, idx[:quotas[label]]...)
		train = append(train, idx[quotas[label]:]...)
	}
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	return partition(rows, test, train)
}

func partition(rows []dataset.Row, test, train []int) Split {
	s := Split{
		Train: make([]dataset.Row, 0, len(train)),
		Test:  make([]dataset.Row, 0, len(test)),
	}
	for _, i := range train {
		s.Train = append(s.Train, rows[i])
	}
	for _, i := range test {
		s.Test = append(s.Test, rows[i])
	}
	return s
}
