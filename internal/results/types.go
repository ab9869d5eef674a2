package results

// Run is one harness invocation.
type Run struct {
	ID         string
	StartedNs  int64
	FinishedNs int64 // zero while the run is in progress
	Seed       string
	Transport  string
	Selection  string
	Passed     int
	Failed     int
}

// Finished reports whether FinishRun was recorded.
func (r *Run) Finished() bool {
	return r.FinishedNs != 0
}

// Scenario is the outcome of one scenario within a run.
type Scenario struct {
	ID         int64
	RunID      string
	Name       string
	Passed     bool
	Kind       string // failure kind, empty when passed
	Step       string
	Check      string
	Message    string
	Calls      int
	DurationNs int64
}
