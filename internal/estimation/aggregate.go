package estimation

// Aggregate is the scan-level total of a set of estimates.
type Aggregate struct {
	Low        float64
	ML         float64
	High       float64
	Daily      float64
	Confidence float64
	Count      int
	ByCategory map[Category]int
}

// Summarize sums the estimates. Confidence is the average confidence weighted by
// each estimate's most likely loss.
func Summarize(estimates []Estimate) Aggregate {
	agg := Aggregate{ByCategory: map[Category]int{}}
	weighted := 0.0
	for _, e := range estimates {
		agg.Low += e.Low
		agg.ML += e.ML
		agg.High += e.High
		agg.Daily += e.Daily
		agg.Count++
		agg.ByCategory[e.Category]++
		weighted += e.Confidence * e.ML
	}
	if agg.ML > 0 {
		agg.Confidence = weighted / agg.ML
	}
	return agg
}
