package domain

type JobStatus string

const (
	JobInProgress JobStatus = "IN_PROGRESS"
	JobSucceeded  JobStatus = "SUCCEEDED"
	JobFailed     JobStatus = "FAILED"
)

// BoundingBox is expressed in page-relative coordinates, every value in [0,1].
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Fragment is one recognized line of text. Box is nil when the engine did not
// report geometry for it.
type Fragment struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Box        *BoundingBox `json:"box,omitempty"`
}

type JobResult struct {
	Status     JobStatus  `json:"status"`
	Text       string     `json:"text,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Fragments  []Fragment `json:"fragments,omitempty"`
}
