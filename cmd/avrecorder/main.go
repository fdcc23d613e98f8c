// Command avrecorder drives the dual-pipeline archival recording engine
// end to end against the synthetic capture source, the way the teacher's
// own CLIs (and five82-drapto/five82-reel in the wider pack) wrap a cobra
// root command around a long-running media operation with colorized status
// and a live progress bar.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	avrecorder "github.com/mantonx/avrecorder"
	"github.com/mantonx/avrecorder/capture/synthetic"
	"github.com/mantonx/avrecorder/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "avrecorder",
		Short: "Dual-pipeline screen+audio archival recording engine",
	}
	root.AddCommand(newRecordCmd())
	root.AddCommand(newSupportedCmd())
	return root
}

func newSupportedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "supported",
		Short: "Check whether the host platform can record",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			if avrecorder.IsSupported(ctx) {
				fmt.Println(color.GreenString("recording is supported on this host"))
				return nil
			}
			fmt.Println(color.YellowString("recording is NOT supported on this host (no usable video encoder)"))
			return nil
		},
	}
}

func newRecordCmd() *cobra.Command {
	var (
		configPath string
		output     string
		duration   time.Duration
		width      int
		height     int
		frameRate  int
		codec      string
		resolution string
		withAudio  bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a synthetic test stream to a container file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFile(configPath)
			if err != nil {
				return err
			}

			if width > 0 {
				cfg.Video.Width = width
			}
			if height > 0 {
				cfg.Video.Height = height
			}
			if frameRate > 0 {
				cfg.Video.FrameRate = frameRate
			}
			if codec != "" {
				cfg.Video.CodecPreference = types.VideoCodec(codec)
			}
			if resolution != "" {
				cfg.Video.ResolutionTarget = types.ResolutionTarget(resolution)
			}
			if withAudio && cfg.Audio == nil {
				cfg.Audio = &types.AudioConfig{}
			}

			logger := hclog.New(&hclog.LoggerOptions{Name: "avrecorder", Level: hclog.Info})
			recorder := avrecorder.New(cfg, logger)

			capture := synthetic.New(synthetic.Options{
				Width: cfg.Video.Width, Height: cfg.Video.Height, FrameRate: cfg.Video.FrameRate,
				WithAudio: cfg.Audio != nil,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			fmt.Println(color.CyanString("starting recording..."))
			effective, err := recorder.Start(ctx, capture)
			if err != nil {
				return fmt.Errorf("start: %w", err)
			}
			fmt.Printf("negotiated: codec=%s %dx%d@%dfps hw_used=%v\n",
				effective.Video.Codec, effective.Video.Width, effective.Video.Height,
				effective.Video.FrameRate, effective.Video.HWUsed)

			if err := runWithProgress(ctx, duration); err != nil {
				return err
			}

			fmt.Println(color.CyanString("stopping and finalizing container..."))
			stopCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
			defer cancel()

			result, err := recorder.Stop(stopCtx)
			if err != nil {
				return fmt.Errorf("stop: %w", err)
			}

			if err := os.WriteFile(output, result.Bytes, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}

			fmt.Println(color.GreenString("wrote %d bytes to %s (container=%s)", len(result.Bytes), output, result.Container))
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&output, "output", "o", "recording.webm", "output file path")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "recording duration")
	cmd.Flags().IntVar(&width, "width", 1280, "capture width")
	cmd.Flags().IntVar(&height, "height", 720, "capture height")
	cmd.Flags().IntVar(&frameRate, "frame-rate", 30, "capture frame rate")
	cmd.Flags().StringVar(&codec, "codec", "", "video codec preference (auto, av1, hevc, h264, vp9)")
	cmd.Flags().StringVar(&resolution, "resolution", "", "resolution target (auto, 4k, 1080p, 720p, 540p)")
	cmd.Flags().BoolVar(&withAudio, "with-audio", false, "include a synthetic audio track")

	return cmd
}

// runWithProgress blocks for duration, updating a progress bar once a
// second, returning early if ctx is cancelled (Ctrl-C).
func runWithProgress(ctx context.Context, duration time.Duration) error {
	bar := progressbar.NewOptions(int(duration.Seconds()),
		progressbar.OptionSetDescription("recording"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{Saucer: "=", SaucerHead: ">", SaucerPadding: " ", BarStart: "[", BarEnd: "]"}),
	)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	deadline := time.After(duration)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			_ = bar.Finish()
			return nil
		case <-ticker.C:
			_ = bar.Add(1)
		}
	}
}
