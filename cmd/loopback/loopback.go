package loopback

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/pcmio/internal/app"
	"github.com/tphakala/pcmio/internal/buildinfo"
	"github.com/tphakala/pcmio/internal/conf"
	"github.com/tphakala/pcmio/internal/errors"
)

// Command runs a render-to-capture self test through the in-memory cable
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Self-test the engines through a loopback cable",
		Long: "Play a generated tone through an in-memory loopback cable, capture it on the other end " +
			"and verify that every byte arrives unchanged and in order.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Setup(settings, build)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx, stop := app.SignalContext(cmd.Context())
			defer stop()

			return rt.Run(ctx, nil, func(ctx context.Context) error {
				report, err := rt.Loopback(ctx, duration)
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report)
				if !report.Match {
					return errors.Newf("loopback mismatch: captured %d bytes that differ from what was played", report.Bytes).
						Component("app").
						Category(errors.CategoryAudio).
						Build()
				}
				return nil
			})
		},
	}

	if err := setupFlags(cmd, &duration); err != nil {
		panic(err)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, duration *time.Duration) error {
	cmd.Flags().DurationVar(duration, "duration", 2*time.Second, "Length of the test tone")
	return conf.AddAudioFlags(cmd.Flags(), "render",
		conf.FlagSampleRate, conf.FlagBitDepth, conf.FlagChannels, conf.FlagBufferSize, conf.FlagBufferDepth)
}

func printReport(w io.Writer, r app.SessionReport) {
	fmt.Fprintf(w, "format:      %s\n", r.Format)
	fmt.Fprintf(w, "audio:       %s (%d bytes)\n", r.Duration().Round(time.Millisecond), r.Bytes)
	fmt.Fprintf(w, "elapsed:     %s\n", r.Elapsed.Round(time.Millisecond))
	if r.Render != nil {
		fmt.Fprintf(w, "render:      %d buffers, %d underruns, %d degraded\n",
			r.Render.Releases, r.Render.Underruns, r.Render.DegradedSlots)
	}
	if r.Capture != nil {
		fmt.Fprintf(w, "capture:     %d buffers, %d resubmits, %d callback errors\n",
			r.Capture.Completions, r.Capture.Resubmits, r.Capture.CallbackErrors)
	}
	if r.Match {
		fmt.Fprintln(w, "result:      bytes match")
	} else {
		fmt.Fprintln(w, "result:      MISMATCH")
	}
}
