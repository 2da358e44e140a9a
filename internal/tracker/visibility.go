package tracker

import "github.com/kana-shii/GaugeOMatic/internal/widget"

// Visibility tracks whether a widget is shown and fades it only on change.
// New widgets start visible.
type Visibility struct {
	w      widget.Widget
	hidden bool
}

func newVisibility(w widget.Widget) Visibility {
	return Visibility{w: w}
}

// Visible reports the current state.
func (v *Visibility) Visible() bool {
	return !v.hidden
}

// Show fades the widget in if it is hidden. It reports whether anything changed.
func (v *Visibility) Show() bool {
	if !v.hidden {
		return false
	}
	v.hidden = false
	if v.w != nil {
		v.w.FadeIn(widget.FadeDuration)
	}
	return true
}

// Hide fades the widget out if it is visible. It reports whether anything changed.
func (v *Visibility) Hide() bool {
	if v.hidden {
		return false
	}
	v.hidden = true
	if v.w != nil {
		v.w.FadeOut(widget.FadeDuration)
	}
	return true
}

// Set shows or hides the widget.
func (v *Visibility) Set(visible bool) bool {
	if visible {
		return v.Show()
	}
	return v.Hide()
}
