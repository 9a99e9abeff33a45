// Package debug holds small tools for inspecting emulator state from the
// outside: currently just PNG frame snapshots used by headless runs and the
// SDL2 backend's F12 key.
package debug

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/valerio/gobeen/jeebie/display"
	"github.com/valerio/gobeen/jeebie/video"

	"image/png"
)

// SaveFramePNGToDir saves a framebuffer as a timestamped PNG in directory.
// An empty directory saves to the current working directory.
func SaveFramePNGToDir(frame *video.FrameBuffer, baseName, directory string) error {
	frameData := frame.ToSlice()

	pixels := make([]byte, video.FramebufferWidth*video.FramebufferHeight*display.RGBABytesPerPixel)
	for i, gbPixel := range frameData {
		idx := i * display.RGBABytesPerPixel
		r, g, b, a := gbPixelToRGBA(gbPixel)
		pixels[idx] = r
		pixels[idx+1] = g
		pixels[idx+2] = b
		pixels[idx+3] = a
	}

	img := image.NewRGBA(image.Rect(0, 0, video.FramebufferWidth, video.FramebufferHeight))
	copy(img.Pix, pixels)

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.png", baseName, timestamp)

	outputDir := directory
	if outputDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
		outputDir = cwd
	}

	filePath := filepath.Join(outputDir, filename)
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", filePath, err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}

	slog.Info("snapshot saved", "path", filePath, "size", fmt.Sprintf("%dx%d", video.FramebufferWidth, video.FramebufferHeight))
	return nil
}

func gbPixelToRGBA(gbPixel uint32) (r, g, b, a byte) {
	switch gbPixel {
	case uint32(video.WhiteColor):
		return display.GrayscaleWhite, display.GrayscaleWhite, display.GrayscaleWhite, display.FullAlpha
	case uint32(video.LightGreyColor):
		return display.GrayscaleLightGray, display.GrayscaleLightGray, display.GrayscaleLightGray, display.FullAlpha
	case uint32(video.DarkGreyColor):
		return display.GrayscaleDarkGray, display.GrayscaleDarkGray, display.GrayscaleDarkGray, display.FullAlpha
	case uint32(video.BlackColor):
		return display.GrayscaleBlack, display.GrayscaleBlack, display.GrayscaleBlack, display.FullAlpha
	default:
		red := byte((gbPixel >> display.RGBARShift) & display.RGBAColorMask)
		return red, red, red, display.FullAlpha
	}
}
