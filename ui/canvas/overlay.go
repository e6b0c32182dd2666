package canvas

import (
	"image/color"

	"vision-annotator/pkg/colorutil"
)

// Style is how one overlay layer is stroked and filled.
type Style struct {
	Stroke    color.RGBA
	Fill      float64 // fill opacity, 0 for outline only
	Thickness int
	Dash      int
}

var (
	background  = color.RGBA{R: 32, G: 32, B: 36, A: 255}
	negativeRed = color.RGBA{R: 230, G: 40, B: 40, A: 255}
)

// shapeStyle styles a stored annotation in its label color.
func shapeStyle(hex string, selected, unsynced bool) Style {
	s := Style{Stroke: colorutil.ParseHex(hex), Fill: 0.15, Thickness: 2}
	if selected {
		s.Fill = 0.3
		s.Thickness = 3
	}
	if unsynced {
		s.Dash = 4
	}
	return s
}

// suggestionStyle styles a pending AI suggestion.
func suggestionStyle(hovered bool) Style {
	s := Style{Stroke: colorutil.Cyan, Fill: 0.25, Thickness: 2, Dash: 6}
	if hovered {
		s.Fill = 0.45
		s.Thickness = 3
	}
	return s
}

// previewStyle styles the draft being drawn; prompt boxes are orange.
func previewStyle(hex string, prompt bool) Style {
	s := Style{Stroke: colorutil.Yellow, Fill: 0.1, Thickness: 1, Dash: 2}
	if hex != "" {
		s.Stroke = colorutil.ParseHex(hex)
	}
	if prompt {
		s.Stroke = colorutil.Orange
	}
	return s
}
