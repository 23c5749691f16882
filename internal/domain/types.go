package domain

// Goal fixes the ranking direction for a whole hyperopt run.
type Goal string

const (
	Maximize Goal = "maximize"
	Minimize Goal = "minimize"
)

// Sample maps a dotted parameter path (e.g. "training.learning_rate")
// to the value drawn for one trial. Samples are produced by the sampler
// and never modified afterwards.
type Sample map[string]any

// Definition is a nested model definition: input features, output
// features, combiner, training and preprocessing sections.
type Definition map[string]any

// TrainStats holds aggregate training statistics as reported by the
// model. The shape is model-defined (loss curves, per-epoch metrics).
type TrainStats map[string]any

// EvalStats holds evaluation statistics keyed by output feature name,
// then by metric name.
type EvalStats map[string]map[string]float64

// TrialResult is the outcome of a single completed trial.
type TrialResult struct {
	Parameters  Sample     `json:"parameters"`
	MetricScore float64    `json:"metric_score"`
	TrainStats  TrainStats `json:"training_stats"`
	EvalStats   EvalStats  `json:"eval_stats"`
}

// SampleScore pairs a sample with the metric score it achieved, for
// feedback to the sampler.
type SampleScore struct {
	Parameters Sample
	Score      float64
}
