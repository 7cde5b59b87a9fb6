package devices

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/pcmio/internal/app"
	"github.com/tphakala/pcmio/internal/audioio"
	"github.com/tphakala/pcmio/internal/buildinfo"
	"github.com/tphakala/pcmio/internal/conf"
)

// Command lists capture and render endpoints
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		Long:  "List the capture and render endpoints of the configured backend with the index and name accepted by --device.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Setup(settings, build)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			list, err := rt.ListDevices(settings.Capture)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			printDevices(cmd.OutOrStdout(), "Capture devices", list.Capture)
			printDevices(cmd.OutOrStdout(), "Render devices", list.Render)
			return nil
		},
	}

	if err := setupFlags(cmd, &asJSON); err != nil {
		panic(err)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, asJSON *bool) error {
	cmd.Flags().BoolVar(asJSON, "json", false, "Print the device list as JSON")
	return conf.AddAudioFlags(cmd.Flags(), "capture", conf.FlagBackend)
}

func printDevices(w io.Writer, title string, devices []audioio.DeviceInfo) {
	fmt.Fprintf(w, "%s:\n", title)
	if len(devices) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %2d  %s\n", marker, d.Index, d.Name)
	}
}
