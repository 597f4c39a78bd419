package imagegen

import (
	"fmt"
	"strings"
)

var styleDirections = map[string]string{
	"modern":        "clean lines, geometric planters, ornamental grasses and concrete pavers",
	"traditional":   "manicured lawn, clipped boxwood hedges and symmetrical flower beds",
	"cottage":       "dense informal perennials, climbing roses and a meandering gravel path",
	"xeriscape":     "drought-tolerant succulents, decomposed granite and native boulders",
	"tropical":      "broad-leaf palms, bird of paradise and layered lush foliage",
	"japanese":      "raked gravel, moss, Japanese maple and stepping stones",
	"mediterranean": "olive trees, lavender, terracotta pots and warm stone",
}

var areaSubjects = map[string]string{
	"front_yard": "front yard as seen from the street",
	"backyard":   "backyard seen from above",
	"walkway":    "front walkway leading to the entrance",
	"side_yard":  "narrow side yard",
	"patio":      "patio and surrounding planting seen from above",
	"pool_area":  "pool surround and decking seen from above",
}

// BuildPrompt composes the model instruction. Structure of the house and
// property lines must stay as photographed; only the landscape changes.
func BuildPrompt(areaType, style, instructions string) string {
	var b strings.Builder
	subject := areaSubjects[areaType]
	if subject == "" {
		subject = strings.ReplaceAll(areaType, "_", " ")
	}
	fmt.Fprintf(&b, "Redesign the landscaping of this %s in a %s style", subject, style)
	if direction, ok := styleDirections[style]; ok {
		fmt.Fprintf(&b, " featuring %s", direction)
	}
	b.WriteString(". Keep the house, driveway and property boundaries unchanged. Photorealistic.")
	if extra := strings.TrimSpace(instructions); extra != "" {
		b.WriteString(" Additional homeowner request: ")
		b.WriteString(extra)
	}
	return b.String()
}
