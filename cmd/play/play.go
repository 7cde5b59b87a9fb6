package play

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/pcmio/internal/app"
	"github.com/tphakala/pcmio/internal/buildinfo"
	"github.com/tphakala/pcmio/internal/conf"
)

// Command plays a WAV file on a render device
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play [input.wav]",
		Short: "Play a WAV file",
		Long:  "Play an 8 or 16-bit PCM WAV file. The sample format is taken from the file.",
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
				report, err := rt.Play(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "played %s of %s audio (%d underruns)\n",
					report.Duration().Round(time.Millisecond), report.Format, report.Render.Underruns)
				return nil
			})
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	return conf.AddAudioFlags(cmd.Flags(), "render",
		conf.FlagBackend, conf.FlagDevice, conf.FlagBufferSize, conf.FlagBufferDepth)
}
