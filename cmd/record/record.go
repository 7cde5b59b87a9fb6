package record

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/pcmio/internal/app"
	"github.com/tphakala/pcmio/internal/buildinfo"
	"github.com/tphakala/pcmio/internal/conf"
)

// Command records from a capture device into a WAV file
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "record [output.wav]",
		Short: "Record audio to a WAV file",
		Long:  "Capture from a device into a WAV file until interrupted or until --duration elapses.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Setup(settings, build)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx, stop := app.SignalContext(cmd.Context())
			defer stop()

			return rt.Run(ctx, nil, func(ctx context.Context) error {
				report, err := rt.Record(ctx, args[0], duration)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recorded %s of %s audio to %s\n",
					report.Duration().Round(time.Millisecond), report.Format, args[0])
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
	cmd.Flags().DurationVar(duration, "duration", 0, "Stop after this long (0 records until interrupted)")
	return conf.AddAudioFlags(cmd.Flags(), "capture")
}
