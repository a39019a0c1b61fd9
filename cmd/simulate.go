package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"telemetry-service/internal/alerting"
	"telemetry-service/internal/catalog"
	"telemetry-service/internal/clock"
	"telemetry-service/internal/config"
	"telemetry-service/internal/db"
	"telemetry-service/internal/health"
	"telemetry-service/internal/latch"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/machine"
	"telemetry-service/internal/metrics"
	"telemetry-service/internal/models"
	"telemetry-service/internal/providers"
	"telemetry-service/internal/simulation"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Validate a sensor catalog file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(args[0])
		if err != nil {
			return err
		}
		if err := cat.Strict(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d machine types OK\n", args[0], len(cat.Types()))
		return nil
	},
}

var simulateFlags struct {
	ticks   int
	mode    string
	seed    uint64
	catalog string
	verbose bool
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run ticks offline and print a summary",
	Long: `Runs the simulation against an in-memory store with a simulated clock.
Notifications are logged instead of sent. Escalation delays elapse in
simulated time, so a sabotage run shows its calls and SMS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := models.ParseMode(simulateFlags.mode)
		if err != nil {
			return err
		}
		level := logrus.WarnLevel
		if simulateFlags.verbose {
			level = logrus.InfoLevel
		}
		logger := logging.NewWriter(cmd.ErrOrStderr(), level)
		return simulate(cmd.Context(), cmd.OutOrStdout(), logger, mode)
	},
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simulateFlags.ticks, "ticks", 20, "number of ticks to run")
	f.StringVar(&simulateFlags.mode, "mode", "normal", "mode applied to every machine before the first tick")
	f.Uint64Var(&simulateFlags.seed, "seed", 1, "random seed")
	f.StringVar(&simulateFlags.catalog, "catalog", "", "sensor catalog file (embedded default when empty)")
	f.BoolVar(&simulateFlags.verbose, "verbose", false, "log every notification")
}

func simulate(ctx context.Context, out io.Writer, logger *logging.Logger, mode models.MachineMode) error {
	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(simulateFlags.catalog, logger)
	if err != nil {
		return err
	}

	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := db.NewMemory()
	if _, err := db.SeedMachines(ctx, store, cat.Types(), clk.Now()); err != nil {
		return err
	}
	if len(cfg.Contacts.EmergencyPhones) == 0 {
		cfg.Contacts.EmergencyPhones = []string{"+15550100"}
	}

	m := metrics.New(prometheus.NewRegistry())
	channels := alerting.Channels{
		Email: providers.NewNoop(alerting.ChannelEmail, logger),
		SMS:   providers.NewNoop(alerting.ChannelSMS, logger),
		Voice: providers.NewNoop(alerting.ChannelVoice, logger),
		Chat:  providers.NewNoop(alerting.ChannelTelegram, logger),
	}
	l := latch.New()
	tracker := health.New(store, clk, rand.New(rand.NewPCG(simulateFlags.seed, simulateFlags.seed+1)))
	rec := alerting.NewRecorder(store, clk, nil, m, logger)
	disp := alerting.NewDispatcher(dispatcherConfig(cfg), l, rec, store, channels, alerting.Inline{}, clk, m, logger)
	ctrl := machine.NewController(store, cat, tracker, l, rec, disp, clk, m, logger)
	loop := simulation.NewLoop(store, cat, simulation.NewSeededGenerator(simulateFlags.seed), ctrl.Guard(disp), clk, m, logger,
		simulation.Options{Interval: cfg.Simulation.TickInterval, Parallelism: cfg.Simulation.Parallelism})

	machines, err := store.ListMachines(ctx, true)
	if err != nil {
		return err
	}
	for _, mc := range machines {
		if _, err := ctrl.SetMode(ctx, mc.ID, mode); err != nil {
			return err
		}
	}

	var readings int
	for i := 0; i < simulateFlags.ticks; i++ {
		readings += loop.Tick(ctx).Readings
		clk.Advance(cfg.Simulation.TickInterval)
	}
	// let pending escalations fire
	clk.Advance(cfg.Escalation.EmergencyCallDelay + cfg.Escalation.SMSFallbackDelay)

	alerts, err := store.ListAlerts(ctx, db.AlertFilter{})
	if err != nil {
		return err
	}
	bySeverity := map[models.Severity]int{}
	for _, a := range alerts {
		bySeverity[a.Severity]++
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ticks\t%d\n", simulateFlags.ticks)
	fmt.Fprintf(w, "mode\t%s\n", mode)
	fmt.Fprintf(w, "readings\t%d\n", readings)
	severities := make([]string, 0, len(bySeverity))
	for s := range bySeverity {
		severities = append(severities, string(s))
	}
	sort.Strings(severities)
	for _, s := range severities {
		fmt.Fprintf(w, "alerts[%s]\t%d\n", s, bySeverity[models.Severity(s)])
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "machine\ttype\tanomalies\thealth")
	for _, mc := range machines {
		var anomalies int
		for _, r := range store.Readings(mc.ID) {
			if r.IsAnomaly {
				anomalies++
			}
		}
		summary, err := tracker.Summarize(ctx, mc.ID, cat.SensorTypes(mc.MachineType))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\n", mc.Name, mc.MachineType, anomalies, summary.Overall)
	}
	return w.Flush()
}
