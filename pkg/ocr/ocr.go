// Package ocr provides the optical character recognition capability used to
// derive searchable text from image content.
package ocr

import "context"

// Region is one recognized text region with its bounding box in pixels.
type Region struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// Result is the recognition output for one image.
type Result struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Regions    []Region `json:"regions,omitempty"`
}

// Client is the OCR boundary. Recognize takes raw image bytes and returns
// the recognized text with per-region detail when the backend provides it.
type Client interface {
	Recognize(ctx context.Context, image []byte) (*Result, error)
	Health(ctx context.Context) error
	Close() error
}
