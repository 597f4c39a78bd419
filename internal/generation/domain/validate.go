package domain

import (
	"strings"
	"unicode/utf8"
)

type AreaInput struct {
	AreaType     AreaType `json:"area_type"`
	Style        Style    `json:"style"`
	CustomPrompt string   `json:"custom_prompt,omitempty"`
}

type SubmitRequest struct {
	Address string      `json:"address"`
	Areas   []AreaInput `json:"areas"`
}

type Limits struct {
	MaxAreas           int
	CustomPromptMaxLen int
}

const maxAddressLen = 300

// Normalize trims inputs and rejects anything the pipeline cannot run. It
// runs before any funds are touched.
func (r SubmitRequest) Normalize(limits Limits) (SubmitRequest, error) {
	address := strings.Join(strings.Fields(r.Address), " ")
	if address == "" {
		return SubmitRequest{}, invalid("address", "is required")
	}
	if utf8.RuneCountInString(address) > maxAddressLen {
		return SubmitRequest{}, invalid("address", "must be at most %d characters", maxAddressLen)
	}

	if len(r.Areas) == 0 {
		return SubmitRequest{}, invalid("areas", "at least one area is required")
	}
	if len(r.Areas) > limits.MaxAreas {
		return SubmitRequest{}, invalid("areas", "at most %d areas per request", limits.MaxAreas)
	}

	seen := make(map[AreaType]struct{}, len(r.Areas))
	areas := make([]AreaInput, 0, len(r.Areas))
	for _, in := range r.Areas {
		areaType := AreaType(strings.ToLower(strings.TrimSpace(string(in.AreaType))))
		if !areaType.Valid() {
			return SubmitRequest{}, invalid("areas.area_type", "unknown area type %q", in.AreaType)
		}
		if _, dup := seen[areaType]; dup {
			return SubmitRequest{}, invalid("areas.area_type", "%s requested more than once", areaType)
		}
		seen[areaType] = struct{}{}

		style := Style(strings.ToLower(strings.TrimSpace(string(in.Style))))
		if !style.Valid() {
			return SubmitRequest{}, invalid("areas.style", "unknown style %q", in.Style)
		}

		prompt := strings.TrimSpace(in.CustomPrompt)
		if utf8.RuneCountInString(prompt) > limits.CustomPromptMaxLen {
			return SubmitRequest{}, invalid("areas.custom_prompt", "must be at most %d characters", limits.CustomPromptMaxLen)
		}
		areas = append(areas, AreaInput{AreaType: areaType, Style: style, CustomPrompt: prompt})
	}

	return SubmitRequest{Address: address, Areas: areas}, nil
}
