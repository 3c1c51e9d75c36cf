package rescue

// Failure records one article-level failure for the run summary.
type Failure struct {
	URL    string `json:"url"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// StageSummary reports the outcome counts for one pipeline stage.
type StageSummary struct {
	Stage     string    `json:"stage"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Processed returns the number of articles the stage actually touched.
func (s StageSummary) Processed() int {
	return s.Succeeded + s.Failed
}
