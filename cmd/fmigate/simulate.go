package main

import (
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coupledsim/fmigate/pkg/events"
	"github.com/coupledsim/fmigate/pkg/frontend"
	"github.com/coupledsim/fmigate/pkg/log"
	"github.com/coupledsim/fmigate/pkg/metrics"
	"github.com/coupledsim/fmigate/pkg/modeldesc"
	"github.com/coupledsim/fmigate/pkg/recorder"
	"github.com/coupledsim/fmigate/pkg/supervisor"
	"github.com/coupledsim/fmigate/pkg/types"
)

// schedulePoint is one timed input value in a scenario file.
type schedulePoint struct {
	T     float64 `yaml:"t"`
	Value float64 `yaml:"value"`
}

type inputSchedule struct {
	Name     string          `yaml:"name"`
	Schedule []schedulePoint `yaml:"schedule"`
}

// scenario is the YAML description of one master-driven simulation run.
type scenario struct {
	Instance string          `yaml:"instance"`
	FMU      string          `yaml:"fmu"`
	GUID     string          `yaml:"guid"`
	Start    float64         `yaml:"start"`
	Stop     float64         `yaml:"stop"`
	StepSize float64         `yaml:"stepSize"`
	Record   string          `yaml:"record"`
	Inputs   []inputSchedule `yaml:"inputs"`
}

func loadScenario(path string) (*scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.Instance == "" {
		sc.Instance = "slave"
	}
	if sc.StepSize <= 0 {
		return nil, fmt.Errorf("scenario: stepSize must be positive")
	}
	if sc.Stop <= sc.Start {
		return nil, fmt.Errorf("scenario: stop must be after start")
	}
	return &sc, nil
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Drive a tool-coupling FMU through a scenario file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		if metricsAddr != "" {
			go func() {
				lg := log.WithComponent("metrics")
				http.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(metricsAddr, nil); err != nil {
					lg.Error().Err(err).Msg("metrics server failed")
				}
			}()
		}

		sc, err := loadScenario(args[0])
		if err != nil {
			return err
		}
		return runScenario(sc)
	},
}

func init() {
	simulateCmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address")
}

func runScenario(sc *scenario) error {
	lg := log.WithComponent("simulate")

	location, err := supervisor.PathFromURI(sc.FMU)
	if err != nil {
		return err
	}
	doc, err := modeldesc.Parse(location + "/" + modeldesc.FileName)
	if err != nil {
		return err
	}
	guid := sc.GUID
	if guid == "" {
		guid = doc.GUID
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			lg.Info().Str("event", string(ev.Type)).Str("instance", ev.Instance).Msg(ev.Message)
		}
	}()

	adapter := frontend.New(frontend.Config{
		Broker: broker,
		Logger: func(instance string, st types.Status, category, message string) {
			if st != types.StatusOK {
				fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", instance, category, message)
			}
		},
	})
	defer adapter.Close()

	if st := adapter.Instantiate(sc.Instance, guid, sc.FMU, false); st != types.StatusOK {
		return fmt.Errorf("instantiate failed: %s", st)
	}
	if st := adapter.InitializeSlave(sc.Start, true, sc.Stop); st != types.StatusOK {
		return fmt.Errorf("initializeSlave failed: %s", st)
	}

	var rec *recorder.Recorder
	if sc.Record != "" {
		if err := os.MkdirAll(sc.Record, 0755); err != nil {
			return err
		}
		if rec, err = recorder.Open(sc.Record); err != nil {
			return err
		}
		defer rec.Close()
	}

	outputs := realOutputNames(doc)

	eps := sc.StepSize * 1e-9
	for t := sc.Start; t < sc.Stop-eps; t += sc.StepSize {
		applyInputs(adapter, sc.Inputs, t, sc.StepSize, eps)

		st := adapter.DoStep(t, sc.StepSize, true)
		switch st {
		case types.StatusOK:
		case types.StatusDiscard:
			lg.Warn().Float64("t", t).Msg("step discarded, retrying once")
			if st = adapter.DoStep(t, sc.StepSize, true); st != types.StatusOK {
				return fmt.Errorf("doStep at t = %g failed: %s", t, st)
			}
		default:
			return fmt.Errorf("doStep at t = %g failed: %s", t, st)
		}

		if rec != nil {
			if err := recordStep(rec, adapter, sc.Instance, outputs, st); err != nil {
				return err
			}
		}
	}

	if st := adapter.Terminate(); st != types.StatusOK {
		return fmt.Errorf("terminate failed: %s", st)
	}
	lg.Info().Float64("t", adapter.CurrentCommunicationPoint()).Msg("simulation finished")
	return nil
}

func realOutputNames(doc *modeldesc.Document) []string {
	var names []string
	for _, v := range doc.Variables {
		if v.Kind == types.KindReal && v.Causality == types.CausalityOutput {
			names = append(names, v.Name)
		}
	}
	sort.Strings(names)
	return names
}

// applyInputs writes every scheduled value whose time falls into the
// interval (t-stepSize, t], so a point between communication points
// takes effect at the next one.
func applyInputs(adapter *frontend.Adapter, inputs []inputSchedule, t, stepSize, eps float64) {
	for _, in := range inputs {
		for _, pt := range in.Schedule {
			if pt.T > t-stepSize+eps && pt.T <= t+eps {
				adapter.SetRealByName(in.Name, pt.Value)
			}
		}
	}
}

func recordStep(rec *recorder.Recorder, adapter *frontend.Adapter, instance string, outputs []string, st types.Status) error {
	step := recorder.StepRecord{
		CommPoint: adapter.CurrentCommunicationPoint(),
		Status:    st.String(),
		Reals:     map[string]float64{},
	}
	for _, name := range outputs {
		if v, vst := adapter.GetRealByName(name); vst == types.StatusOK {
			step.Reals[name] = v
		}
	}
	return rec.RecordStep(instance, step)
}
