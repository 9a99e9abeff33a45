package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/urfave/cli"
	"github.com/valerio/gobeen/jeebie"
	"github.com/valerio/gobeen/jeebie/backend"
	"github.com/valerio/gobeen/jeebie/input"
	"github.com/valerio/gobeen/jeebie/input/action"
	"github.com/valerio/gobeen/jeebie/input/event"
	"github.com/valerio/gobeen/jeebie/video"
)

func main() {
	app := cli.NewApp()
	app.Name = "Jeebie"
	app.Description = "A simple gameboy emulator"
	app.Usage = "jeebie [options] <ROM file>"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rom",
			Usage: "Path to the ROM file",
		},
		cli.BoolFlag{
			Name:  "headless",
			Usage: "Run the emulator without a graphical interface",
		},
		cli.IntFlag{
			Name:  "frames",
			Usage: "Number of frames to run in headless mode (required for headless)",
			Value: 0,
		},
		cli.BoolFlag{
			Name:  "test-pattern",
			Usage: "Display a test pattern instead of emulation (for debugging display)",
		},
		cli.IntFlag{
			Name:  "snapshot-interval",
			Usage: "Save frame snapshots every N frames in headless mode (0 = disabled)",
			Value: 0,
		},
		cli.StringFlag{
			Name:  "snapshot-dir",
			Usage: "Directory to save frame snapshots (default: temp directory)",
		},
		cli.BoolFlag{
			Name:  "serial-stdout",
			Usage: "Mirror the serial port's output to stdout (useful for test ROMs that report results over serial)",
		},
	}
	app.Action = runEmulator

	err := app.Run(os.Args)
	if err != nil {
		slog.Error("Error running emulator", "error", err)
		os.Exit(1)
	}
}

func runEmulator(c *cli.Context) error {
	romPath := c.String("rom")
	testPattern := c.Bool("test-pattern")

	if romPath == "" && !testPattern {
		if c.NArg() > 0 {
			romPath = c.Args().Get(0)
		} else {
			cli.ShowAppHelp(c)
			return errors.New("no ROM path provided")
		}
	}

	var emu *jeebie.Emulator
	if !testPattern {
		loaded, err := jeebie.NewWithFile(romPath)
		if err != nil {
			return err
		}
		emu = loaded
		emu.SetSerialStdout(c.Bool("serial-stdout"))
	}

	if c.Bool("headless") {
		frames := c.Int("frames")
		if frames <= 0 && !testPattern {
			return errors.New("headless mode requires --frames option with a positive value")
		}

		snapshotConfig, err := backend.CreateSnapshotConfig(c.Int("snapshot-interval"), c.String("snapshot-dir"), romPath)
		if err != nil {
			return err
		}

		be := backend.NewHeadlessBackend(frames, snapshotConfig)
		return runBackend(emu, be, backend.BackendConfig{Title: "Jeebie", TestPattern: testPattern}, frames)
	}

	be := backend.NewSDL2Backend()
	return runBackend(emu, be, backend.BackendConfig{
		Title:       "Jeebie",
		Scale:       4,
		VSync:       true,
		TestPattern: testPattern,
	}, 0)
}

// runBackend drives the emulator/backend pair until the backend reports
// EmulatorQuit or, for finite headless runs, maxFrames is reached.
func runBackend(emu *jeebie.Emulator, be backend.Backend, config backend.BackendConfig, maxFrames int) error {
	if err := be.Init(config); err != nil {
		return err
	}
	defer be.Cleanup()

	handler := input.NewHandler()
	var frameCount int

	for {
		var frame *video.FrameBuffer
		if emu != nil {
			if err := emu.RunUntilFrame(); err != nil {
				return err
			}
			frame = emu.GetCurrentFrame()
		}

		events, err := be.Update(frame)
		if err != nil {
			return err
		}

		for _, evt := range events {
			if !handler.ProcessEvent(evt) {
				continue
			}
			if evt.Action == action.EmulatorQuit {
				return nil
			}
			if emu != nil {
				emu.HandleAction(evt.Action, evt.Type == event.Press || evt.Type == event.Hold)
			}
		}

		frameCount++
		if maxFrames > 0 && frameCount >= maxFrames {
			return nil
		}
	}
}
