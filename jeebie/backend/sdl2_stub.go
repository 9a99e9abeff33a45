//go:build !sdl2

package backend

import (
	"fmt"

	"github.com/valerio/gobeen/jeebie/video"
)

// SDL2Backend stub for builds without SDL2 development libraries installed.
// Build with -tags sdl2 to get the real implementation in sdl2.go.
type SDL2Backend struct{}

func NewSDL2Backend() *SDL2Backend {
	return &SDL2Backend{}
}

func (s *SDL2Backend) Init(config BackendConfig) error {
	return fmt.Errorf("SDL2 backend not available - compile with -tags sdl2 and install SDL2 development libraries")
}

func (s *SDL2Backend) Update(frame *video.FrameBuffer) ([]InputEvent, error) {
	return nil, fmt.Errorf("SDL2 backend not available")
}

func (s *SDL2Backend) Cleanup() error {
	return nil
}
