package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/coupledsim/fmigate/pkg/backend"
	"github.com/coupledsim/fmigate/pkg/backend/app"
)

// gainModel is the reference worker: y = gain * u. It serves as the
// counterpart of the example FMUs and as the end-to-end test fixture.
type gainModel struct {
	gain float64
	u    float64
	y    float64
}

func (m *gainModel) InitializeVariables(v *app.Variables) {
	v.AddRealParameter("gain", &m.gain)
	v.AddRealInput("u", &m.u)
	v.AddRealOutput("y", &m.y)
}

func (m *gainModel) InitializeBackEnd(b *backend.Backend, args []string) error { return nil }

func (m *gainModel) DoStep(syncTime, lastSyncTime float64) error {
	m.y = m.gain * m.u
	return nil
}

var workerCmd = &cobra.Command{
	Use:   "worker [entry-point]",
	Short: "Run the reference back-end worker (y = gain * u)",
	Long: `Runs the reference gain worker against the front end that launched it.

The positional entry-point argument passed by the launcher is accepted
and ignored. The dry-run flags --only-write-variable-names and
--only-write-variable-names-json emit the declared interface and exit.`,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Flags are parsed by hand so the dry-run flags reach the
		// application skeleton untouched.
		var cfg backend.Config
		rest := make([]string, 0, len(args))
		for _, arg := range args {
			switch {
			case strings.HasPrefix(arg, "--segment="):
				cfg.SegmentID = strings.TrimPrefix(arg, "--segment=")
			case arg == "--use-parent-pid":
				cfg.UseParentPID = true
			default:
				rest = append(rest, arg)
			}
		}

		application := app.New(&gainModel{}, cfg)
		return application.Run(rest)
	},
}
