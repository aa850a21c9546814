// Package screens resolves the desktop dimensions used for ratio/pixel
// coordinate mapping.
package screens

import (
	"fmt"

	"github.com/go-vgo/robotgo"
	"github.com/kbinani/screenshot"
	"go.uber.org/zap"
)

// Detect probes the primary display size in pixels.
func Detect() (int, int, error) {
	if screenshot.NumActiveDisplays() > 0 {
		bounds := screenshot.GetDisplayBounds(0)
		if bounds.Dx() > 0 && bounds.Dy() > 0 {
			return bounds.Dx(), bounds.Dy(), nil
		}
	}
	w, h := robotgo.GetScreenSize()
	if w > 0 && h > 0 {
		return w, h, nil
	}
	return 0, 0, fmt.Errorf("no active display found")
}

// Resolve returns the dimensions to use for coordinate mapping. An explicit
// width/height pair from the config wins; otherwise the displays are probed.
// Detection failure without an override is an error, never a guessed
// resolution.
func Resolve(log *zap.Logger, cfgWidth, cfgHeight int) (int, int, error) {
	return resolveWith(log, cfgWidth, cfgHeight, Detect)
}

func resolveWith(log *zap.Logger, cfgWidth, cfgHeight int, detect func() (int, int, error)) (int, int, error) {
	if cfgWidth > 0 && cfgHeight > 0 {
		log.Info("Using configured screen size", zap.Int("width", cfgWidth), zap.Int("height", cfgHeight))
		return cfgWidth, cfgHeight, nil
	}
	w, h, err := detect()
	if err != nil {
		return 0, 0, fmt.Errorf("screen size detection failed, set screen_width and screen_height: %w", err)
	}
	log.Debug("Detected screen size", zap.Int("width", w), zap.Int("height", h))
	return w, h, nil
}
