package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-annotator/pkg/segmentation"
)

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest("point", "img-1", 0.25, 0.75, "", "")
	require.NoError(t, err)
	assert.Equal(t, []segmentation.Point{{X: 0.25, Y: 0.75, Label: segmentation.LabelPositive}}, req.Points)

	req, err = buildRequest("box", "img-1", 0, 0, "0.1, 0.2,0.3,0.4", "")
	require.NoError(t, err)
	assert.Equal(t, &segmentation.BBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}, req.Box)

	req, err = buildRequest("text", "img-1", 0, 0, "", "car")
	require.NoError(t, err)
	assert.Equal(t, "car", req.Text)
}

func TestBuildRequestRejects(t *testing.T) {
	for _, tc := range []struct{ kind, box, text string }{
		{"box", "0.1,0.2,0.3", ""},
		{"box", "0.1,0.2,0,0.4", ""},
		{"box", "a,b,c,d", ""},
		{"text", "", "  "},
		{"similar", "", ""},
	} {
		_, err := buildRequest(tc.kind, "img-1", 0, 0, tc.box, tc.text)
		assert.Error(t, err, "%+v", tc)
	}
}
