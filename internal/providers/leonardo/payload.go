package leonardo

import "strings"

const defaultInitStrength = 0.5

// generationPayload is the wire shape for POST /generations. The optional
// fields carry omitempty so the provider never sees an empty negative prompt
// or a stray init_image_id on a text-to-image request.
type generationPayload struct {
	Prompt         string   `json:"prompt"`
	ModelID        string   `json:"modelId"`
	NumImages      int      `json:"num_images"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	PromptMagic    bool     `json:"promptMagic"`
	Public         bool     `json:"public"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	InitImageID    string   `json:"init_image_id,omitempty"`
	InitStrength   *float64 `json:"init_strength,omitempty"`
}

// buildGenerationPayload merges the static defaults with the request.
// Deterministic: identical inputs always produce an identical payload. For
// image-to-image the caller must supply the id of a previously uploaded
// asset; strength falls back to 0.5 when the request left it unset.
func buildGenerationPayload(req GenerateRequest, defaults GenerationDefaults, initImageID string) (generationPayload, error) {
	payload := generationPayload{
		Prompt:      req.Prompt,
		ModelID:     defaults.ModelID,
		NumImages:   defaults.NumImages,
		Width:       defaults.Width,
		Height:      defaults.Height,
		PromptMagic: defaults.PromptMagic,
		Public:      defaults.Public,
	}
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		payload.NegativePrompt = neg
	}
	if req.Source != nil {
		if initImageID == "" {
			return generationPayload{}, ErrMissingInitImage
		}
		payload.InitImageID = initImageID
		strength := defaultInitStrength
		if req.Strength != nil {
			strength = *req.Strength
		}
		payload.InitStrength = &strength
	}
	return payload, nil
}
