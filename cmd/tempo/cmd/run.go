package cmd

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/tempolab/tempo/cpuctl"
	"github.com/tempolab/tempo/ctrl"
	"github.com/tempolab/tempo/monitoring"
	"github.com/tempolab/tempo/recording"
	"github.com/tempolab/tempo/tables"
)

var runFlags struct {
	controlPath string
	cpuPath     string
	goal        float64
	period      uint32
	depth       uint32
	margin      float64
	iterations  uint64
	seed        int64
	logPath     string
	sqlitePath  string
	monitor     bool
	monitorPort int
	openBrowser bool
	sysfs       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a control session over a simulated workload",
	Long: `Run drives a control session. Without --sysfs the actuation ` +
		`target is a simulated workload whose rate scales with the ` +
		`selected state's speedup, which makes the command a safe demo ` +
		`of the decision policy. With --sysfs, decisions are applied to ` +
		`the CPUs of this machine through the cpufreq interface.`,
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.controlPath, "control", "",
		"control state table file (empty for the built-in default)")
	runCmd.Flags().StringVar(&runFlags.cpuPath, "cpu", "",
		"cpu state table file (empty for the built-in default)")
	runCmd.Flags().Float64Var(&runFlags.goal, "goal",
		envFloat("TEMPO_GOAL", 100.0), "performance goal (rate)")
	runCmd.Flags().Uint32Var(&runFlags.period, "period", 20,
		"calls per decision epoch")
	runCmd.Flags().Uint32Var(&runFlags.depth, "depth", 1,
		"sample buffer depth")
	runCmd.Flags().Float64Var(&runFlags.margin, "margin",
		ctrl.DefaultHysteresisMargin, "hysteresis margin")
	runCmd.Flags().Uint64Var(&runFlags.iterations, "iterations", 1000,
		"control iterations to run")
	runCmd.Flags().Int64Var(&runFlags.seed, "seed", 1,
		"seed for the simulated workload noise")
	runCmd.Flags().StringVar(&runFlags.logPath, "log", "",
		"CSV decision log file")
	runCmd.Flags().StringVar(&runFlags.sqlitePath, "sqlite", "",
		"record decisions into a SQLite database at this path")
	runCmd.Flags().BoolVar(&runFlags.monitor, "monitor", false,
		"serve the monitoring API during the session")
	runCmd.Flags().IntVar(&runFlags.monitorPort, "monitor-port", 0,
		"port for the monitoring API (random when 0)")
	runCmd.Flags().BoolVar(&runFlags.openBrowser, "open", false,
		"open the monitoring API in a browser")
	runCmd.Flags().BoolVar(&runFlags.sysfs, "sysfs", false,
		"actuate the CPUs of this machine instead of a simulation")

	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	control, cpu, err := tables.Load(
		runFlags.controlPath, runFlags.cpuPath)
	if err != nil {
		return err
	}

	builder := ctrl.MakeBuilder().
		WithPerfGoal(runFlags.goal).
		WithStates(control, cpu).
		WithPeriod(runFlags.period).
		WithBufferDepth(runFlags.depth).
		WithHysteresisMargin(runFlags.margin)

	var workload *simulatedWorkload
	if runFlags.sysfs {
		host, err := cpuctl.NewHost()
		if err != nil {
			return err
		}
		builder = builder.WithActuator(ctrl.NewCPUActuator(host))
	} else {
		workload = newSimulatedWorkload(runFlags.seed)
		builder = builder.WithActuator(workload)
	}

	if runFlags.logPath != "" && runFlags.sqlitePath != "" {
		return errors.New("--log and --sqlite cannot both be set")
	}

	var sqliteRecorder *recording.SQLiteRecorder
	switch {
	case runFlags.logPath != "":
		builder = builder.WithLogFile(runFlags.logPath)
	case runFlags.sqlitePath != "":
		sqliteRecorder, err = recording.NewSQLiteRecorder(
			runFlags.sqlitePath)
		if err != nil {
			return err
		}
		builder = builder.WithRecorder(sqliteRecorder)
	}

	controller, err := builder.Build()
	if err != nil {
		if sqliteRecorder != nil {
			sqliteRecorder.Close()
		}
		return err
	}

	defer controller.Destroy()
	if sqliteRecorder != nil {
		defer sqliteRecorder.Close()
	}

	if runFlags.monitor {
		monitor := monitoring.NewMonitor()
		if runFlags.monitorPort > 0 {
			monitor.WithPortNumber(runFlags.monitorPort)
		}
		monitor.RegisterController(controller)
		addr := monitor.StartServer()
		defer monitor.StopServer()

		if runFlags.openBrowser {
			_ = browser.OpenURL("http://" + addr + "/api/status")
		}
	}

	states := controller.States()
	if workload != nil {
		// The simulation starts in the lowest-performance state.
		workload.current = states[0]
	}

	for tag := uint64(0); tag < runFlags.iterations; tag++ {
		rate, power := measure(workload, runFlags.goal)
		controller.ApplyControl(tag, rate, power)
	}

	status := controller.Status()
	fmt.Printf("Finished after %d calls, %d epochs. ", status.Calls,
		status.Epochs)
	fmt.Printf("Final state index %d (mean rate %.2f, mean power %.2f).\n",
		status.CurrentIndex, status.MeanRate, status.MeanPower)

	return nil
}

// measure reports the workload's rate and power for one iteration. With a
// real actuator the host application would measure itself here; the demo
// derives both from the state the simulation has settled on.
func measure(workload *simulatedWorkload, goal float64) (float64, float64) {
	if workload == nil {
		// No application to measure when driving real hardware from
		// the demo; report the goal so the controller holds.
		return goal, 1.0
	}

	return workload.measure(goal)
}

// simulatedWorkload is an actuator whose "hardware" is an imaginary
// application. Its rate scales with the applied state's speedup around 60%
// of the goal at the lowest state, so the controller has to climb the
// table to meet the goal.
type simulatedWorkload struct {
	current ctrl.StatePair
	rng     *rand.Rand
}

func newSimulatedWorkload(seed int64) *simulatedWorkload {
	return &simulatedWorkload{
		rng: rand.New(rand.NewSource(seed)),
	}
}

func (w *simulatedWorkload) Apply(
	states []ctrl.StatePair,
	targetID, prevID uint32,
) error {
	for _, pair := range states {
		if pair.Control.ID == targetID {
			w.current = pair
			return nil
		}
	}

	return fmt.Errorf("no state with id %d", targetID)
}

func (w *simulatedWorkload) Current(
	states []ctrl.StatePair,
) (uint32, error) {
	for i, pair := range states {
		if pair.Control.ID == w.current.Control.ID {
			return uint32(i), nil
		}
	}

	return uint32(len(states)), nil
}

func (w *simulatedWorkload) measure(goal float64) (float64, float64) {
	noise := 1.0 + 0.02*(w.rng.Float64()*2-1)

	rate := 0.6 * goal * w.current.Control.Speedup * noise
	power := w.current.Control.Cost * noise

	return rate, power
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}

	return value
}
