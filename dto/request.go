package dto

// DetectRequest carries one upload through the detection pipeline.
type DetectRequest struct {
	FileName   string
	ModelName  string
	Confidence float64
}
