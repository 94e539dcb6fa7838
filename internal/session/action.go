package session

import (
	"encoding/json"
	"fmt"

	"image-editor/internal/imageproc"
)

// DecodeAction reads a tagged action such as {"type":"setZoom","zoom":1.5}.
func DecodeAction(data []byte) (Action, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action: %w", err)
	}

	switch head.Type {
	case "updateCrop":
		var body struct {
			Crop imageproc.CropRegion `json:"crop"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("failed to unmarshal updateCrop: %w", err)
		}
		return UpdateCrop{Region: body.Crop}, nil
	case "selectAspectPreset":
		var body struct {
			Label string  `json:"label"`
			Ratio float64 `json:"ratio"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("failed to unmarshal selectAspectPreset: %w", err)
		}
		return SelectAspectPreset{Label: body.Label, Ratio: imageproc.Aspect(body.Ratio)}, nil
	case "setTargetDimensions":
		var body struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("failed to unmarshal setTargetDimensions: %w", err)
		}
		return SetTargetDimensions{Width: body.Width, Height: body.Height}, nil
	case "setZoom":
		var body struct {
			Zoom float64 `json:"zoom"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("failed to unmarshal setZoom: %w", err)
		}
		return SetZoom{Zoom: body.Zoom}, nil
	case "setQuality":
		var body struct {
			Quality int `json:"quality"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("failed to unmarshal setQuality: %w", err)
		}
		return SetQuality{Quality: body.Quality}, nil
	case "setFormat":
		var body struct {
			Format imageproc.Format `json:"format"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("failed to unmarshal setFormat: %w", err)
		}
		return SetFormat{Format: body.Format}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, head.Type)
	}
}
