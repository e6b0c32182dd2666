package canvas

import (
	"testing"

	"fyne.io/fyne/v2"
	"github.com/stretchr/testify/assert"

	"vision-annotator/internal/viewport"
)

func TestWheelModifiersFollowKeyboard(t *testing.T) {
	stale := viewport.Modifiers{}
	held := func() (fyne.KeyModifier, bool) { return fyne.KeyModifierControl, true }
	assert.True(t, wheelModifiers(stale, held).Ctrl, "ctrl pressed without moving the mouse")

	stale = viewport.Modifiers{Ctrl: true}
	released := func() (fyne.KeyModifier, bool) { return 0, true }
	assert.False(t, wheelModifiers(stale, released).Ctrl, "ctrl released without moving the mouse")

	unknown := func() (fyne.KeyModifier, bool) { return 0, false }
	assert.Equal(t, stale, wheelModifiers(stale, unknown))
}

func TestToModifiers(t *testing.T) {
	m := toModifiers(fyne.KeyModifierShift | fyne.KeyModifierAlt)
	assert.Equal(t, viewport.Modifiers{Alt: true, Shift: true}, m)
}
