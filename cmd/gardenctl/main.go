// gardenctl is the command-line client for a running gardencore.
//
// Every subcommand talks to the REST API; nothing reads the database
// directly. Set --server or GARDENCTL_SERVER to point it elsewhere.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartgarden/garden-core/internal/api"
	"github.com/smartgarden/garden-core/internal/audit"
	"github.com/smartgarden/garden-core/internal/device"
	"github.com/smartgarden/garden-core/internal/history"
	"github.com/smartgarden/garden-core/internal/smart"
	"github.com/smartgarden/garden-core/internal/telemetry"
)

const (
	defaultServer  = "http://127.0.0.1:8080"
	defaultTimeout = 60 * time.Second
	timeFormat     = "2006-01-02 15:04:05"
)

func main() {
	if err := newRootCmd(viper.New(), os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries the settings every subcommand shares.
type app struct {
	v   *viper.Viper
	out io.Writer
}

func newRootCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	a := &app{v: v, out: out}

	root := &cobra.Command{
		Use:   "gardenctl",
		Short: "Smart garden control CLI",
		Long: `gardenctl inspects and drives a running garden core.

- status:     service health, bus connection and smart control flag
- telemetry:  latest sensor snapshot and stored readings
- devices:    actuator registry and state history
- trigger:    run one smart control cycle against the latest diagnosis
- analyze:    send a leaf image through the vision pipeline
- diagnoses:  stored diagnoses
- actions:    actuation log (smart and manual)
- motor, servo, photo: direct firmware commands`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	v.SetEnvPrefix("GARDENCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.PersistentFlags().String("server", defaultServer, "garden core base URL")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().Duration("timeout", defaultTimeout, "request timeout")
	_ = v.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("json", root.PersistentFlags().Lookup("json"))
	_ = v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))

	root.AddCommand(a.statusCmd())
	root.AddCommand(a.telemetryCmd())
	root.AddCommand(a.devicesCmd())
	root.AddCommand(a.triggerCmd())
	root.AddCommand(a.analyzeCmd())
	root.AddCommand(a.diagnosesCmd())
	root.AddCommand(a.actionsCmd())
	root.AddCommand(a.motorCmd())
	root.AddCommand(a.servoCmd())
	root.AddCommand(a.photoCmd())
	return root
}

func (a *app) client() (*client, error) {
	timeout := a.v.GetDuration("timeout")
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return newClient(a.v.GetString("server"), timeout)
}

// withClient runs fn with a client bound to the command's context.
func (a *app) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client) error) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, c)
}

// ─── status ─────────────────────────────────────────────────────────

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				var health struct {
					Status              string `json:"status"`
					Version             string `json:"version"`
					SmartControlEnabled bool   `json:"smart_control_enabled"`
				}
				if err := c.get(ctx, "/health", nil, &health); err != nil {
					return err
				}
				var dbg api.DebugInfo
				if err := c.get(ctx, "/debug", nil, &dbg); err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return a.printJSON(map[string]any{"health": health, "debug": dbg})
				}
				tw := a.table()
				tw.AppendRows([]table.Row{
					{"Status", health.Status},
					{"Version", health.Version},
					{"Bus connected", dbg.BusConnected},
					{"Smart control", enabledString(health.SmartControlEnabled)},
					{"Manual commands", enabledString(dbg.ManualAvailable)},
					{"Vision pipeline", dbg.VisionURL},
				})
				if p := dbg.VisionProcess; p != nil {
					state := string(p.State)
					if p.PID != 0 {
						state = fmt.Sprintf("%s (pid %d, %d restarts)", p.State, p.PID, p.Restarts)
					}
					tw.AppendRow(table.Row{"Vision process", state})
					if p.LastError != "" {
						tw.AppendRow(table.Row{"Vision last error", p.LastError})
					}
				}
				tw.AppendRow(table.Row{"WebSocket clients", dbg.WebSocketClients})
				tw.Render()
				return nil
			})
		},
	}
}

// ─── telemetry ──────────────────────────────────────────────────────

func (a *app) telemetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Show the latest sensor snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				var snap telemetry.Snapshot
				if err := c.get(ctx, "/telemetry", nil, &snap); err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return a.printJSON(snap)
				}
				a.printSnapshot(snap)
				return nil
			})
		},
	}
	cmd.AddCommand(a.telemetryHistoryCmd())
	return cmd
}

func (a *app) telemetryHistoryCmd() *cobra.Command {
	var kind string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored readings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				q := url.Values{}
				if kind != "" {
					q.Set("kind", kind)
				}
				setLimit(q, limit)
				var res struct {
					Readings []history.Sample `json:"readings"`
				}
				if err := c.get(ctx, "/telemetry/history", q, &res); err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return a.printJSON(res.Readings)
				}
				tw := a.table()
				tw.AppendHeader(table.Row{"Time", "Sensor", "Kind", "Value"})
				for _, s := range res.Readings {
					tw.AppendRow(table.Row{formatTime(s.RecordedAt), s.SensorID, s.Kind, s.Value})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "reading kind (Temperature, Humidity, Light, Soil_Moisture)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func (a *app) printSnapshot(snap telemetry.Snapshot) {
	tw := a.table()
	tw.AppendHeader(table.Row{"Reading", "Value"})
	tw.AppendRows([]table.Row{
		{"Temperature", snap.Temperature},
		{"Humidity", snap.Humidity},
		{"Light", snap.Light},
		{"Soil moisture", snap.SoilMoisture},
	})
	tw.AppendFooter(table.Row{"Updated", formatTime(snap.UpdatedAt)})
	tw.Render()
}

// ─── devices ────────────────────────────────────────────────────────

func (a *app) devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List actuators and who controls them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				var res struct {
					Devices []device.Record `json:"devices"`
				}
				if err := c.get(ctx, "/devices", nil, &res); err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return a.printJSON(res.Devices)
				}
				tw := a.table()
				tw.AppendHeader(table.Row{"Device", "State", "Controller", "Detail", "Updated"})
				for _, d := range res.Devices {
					tw.AppendRow(table.Row{d.DeviceID, d.State, d.Controller, d.Detail, formatTime(d.UpdatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.AddCommand(a.deviceHistoryCmd())
	return cmd
}

func (a *app) deviceHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <device>",
		Short: "Show state transitions for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				q := url.Values{}
				setLimit(q, limit)
				var res struct {
					History []device.StateHistoryEntry `json:"history"`
				}
				if err := c.get(ctx, "/devices/"+url.PathEscape(args[0])+"/history", q, &res); err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return a.printJSON(res.History)
				}
				tw := a.table()
				tw.AppendHeader(table.Row{"Time", "State", "Controller", "Detail"})
				for _, e := range res.History {
					tw.AppendRow(table.Row{formatTime(e.CreatedAt), e.State, e.Controller, e.Detail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

// ─── smart control ──────────────────────────────────────────────────

func (a *app) triggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Run one smart control cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				var res smart.CycleResult
				if err := c.postJSON(ctx, "/smart-control", nil, &res); err != nil {
					if isStatus(err, http.StatusConflict) {
						return fmt.Errorf("no diagnosis stored yet, run 'gardenctl analyze' first: %w", err)
					}
					return err
				}
				if a.v.GetBool("json") {
					return a.printJSON(res)
				}
				a.printCycle(res)
				return nil
			})
		},
	}
}

func (a *app) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <image>",
		Short: "Classify a leaf image and store the diagnosis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				var res smart.Analysis
				if err := c.upload(ctx, "/diagnoses", filepath.Base(args[0]), f, &res); err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return a.printJSON(res)
				}
				tw := a.table()
				tw.AppendRows([]table.Row{
					{"ID", res.ID},
					{"Image", res.ImageName},
					{"Label", res.Diagnosis.Label},
					{"Confidence", fmt.Sprintf("%.2f", res.Diagnosis.Confidence)},
					{"Leaves", fmt.Sprintf("%d/%d", res.Diagnosis.SupportingCount, res.Diagnosis.TotalLeaves)},
				})
				tw.Render()
				if res.Cycle != nil {
					a.printCycle(*res.Cycle)
				}
				return nil
			})
		},
	}
}

func (a *app) printCycle(res smart.CycleResult) {
	fmt.Fprintf(a.out, "cycle %s: %s (%s, confidence %.2f)\n",
		res.CycleID, res.Message, res.Diagnosis.Label, res.Diagnosis.Confidence)
	if len(res.Actions) == 0 {
		return
	}
	tw := a.table()
	tw.AppendHeader(table.Row{"Device", "Duration (s)", "Priority"})
	for _, act := range res.Actions {
		tw.AppendRow(table.Row{act.DeviceID, act.DurationSeconds, act.Priority})
	}
	tw.Render()
}

// ─── diagnoses ──────────────────────────────────────────────────────

func (a *app) diagnosesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "diagnoses",
		Short: "List stored diagnoses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				q := url.Values{}
				setLimit(q, limit)
				var res struct {
					Diagnoses []history.DiagnosisRecord `json:"diagnoses"`
				}
				if err := c.get(ctx, "/diagnoses", q, &res); err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return a.printJSON(res.Diagnoses)
				}
				tw := a.table()
				tw.AppendHeader(table.Row{"ID", "Time", "Image", "Label", "Confidence", "Leaves"})
				for _, r := range res.Diagnoses {
					d := r.Diagnosis
					tw.AppendRow(table.Row{
						r.ID, formatTime(d.CreatedAt), r.ImageName, d.Label,
						fmt.Sprintf("%.2f", d.Confidence),
						fmt.Sprintf("%d/%d", d.SupportingCount, d.TotalLeaves),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	cmd.AddCommand(a.diagnosisShowCmd())
	return cmd
}

func (a *app) diagnosisShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|latest>",
		Short: "Show one diagnosis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				var rec history.DiagnosisRecord
				if args[0] == "latest" {
					if err := c.get(ctx, "/diagnoses/latest", nil, &rec.Diagnosis); err != nil {
						return err
					}
				} else if err := c.get(ctx, "/diagnoses/"+url.PathEscape(args[0]), nil, &rec); err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return a.printJSON(rec)
				}
				d := rec.Diagnosis
				tw := a.table()
				tw.AppendRows([]table.Row{
					{"Label", d.Label},
					{"Confidence", fmt.Sprintf("%.2f", d.Confidence)},
					{"Leaves", fmt.Sprintf("%d/%d", d.SupportingCount, d.TotalLeaves)},
					{"Created", formatTime(d.CreatedAt)},
				})
				if rec.ID != "" {
					tw.AppendRow(table.Row{"ID", rec.ID})
					tw.AppendRow(table.Row{"Image", rec.ImageName})
				}
				tw.Render()
				if len(rec.Leaves) > 0 {
					lt := a.table()
					lt.AppendHeader(table.Row{"#", "Leaf label", "Confidence"})
					for i, l := range rec.Leaves {
						lt.AppendRow(table.Row{i + 1, l.Label, fmt.Sprintf("%.2f", l.Confidence)})
					}
					lt.Render()
				}
				return nil
			})
		},
	}
}

// ─── actions ────────────────────────────────────────────────────────

func (a *app) actionsCmd() *cobra.Command {
	var deviceID, cycleID, event string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Show the actuation log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				q := url.Values{}
				if deviceID != "" {
					q.Set("device", deviceID)
				}
				if cycleID != "" {
					q.Set("cycle", cycleID)
				}
				if event != "" {
					q.Set("event", event)
				}
				setLimit(q, limit)
				if offset > 0 {
					q.Set("offset", strconv.Itoa(offset))
				}
				var res audit.ListResult
				if err := c.get(ctx, "/actions", q, &res); err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return a.printJSON(res)
				}
				tw := a.table()
				tw.AppendHeader(table.Row{"Time", "Device", "Event", "Controller", "Duration (s)", "Reason", "Error"})
				for _, e := range res.Entries {
					tw.AppendRow(table.Row{
						formatTime(e.CreatedAt), e.DeviceID, e.Event, e.Controller,
						e.DurationSeconds, e.Reason, e.Error,
					})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "", "Total", res.Total})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "filter by device")
	cmd.Flags().StringVar(&cycleID, "cycle", "", "filter by smart control cycle")
	cmd.Flags().StringVar(&event, "event", "", "filter by event (started, stopped, dropped, failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

// ─── direct commands ────────────────────────────────────────────────

func (a *app) motorCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "motor <device> <run|stop>",
		Short:     "Switch a fan or pump directly",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{device.Fan1, device.Pump1},
		RunE: func(cmd *cobra.Command, args []string) error {
			state := strings.ToLower(args[1])
			if state != "run" && state != "stop" {
				return fmt.Errorf("state must be run or stop, got %q", args[1])
			}
			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				req := api.MotorRequest{Device: args[0], State: state}
				return a.sendCommand(ctx, c, "/commands/motor", req)
			})
		},
	}
}

func (a *app) servoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servo <angle>",
		Short: "Move the camera servo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			angle, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("angle must be an integer: %w", err)
			}
			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				return a.sendCommand(ctx, c, "/commands/servo", api.ServoRequest{Angle: &angle})
			})
		},
	}
}

func (a *app) photoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "photo",
		Short: "Ask the camera to take a photo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client) error {
				return a.sendCommand(ctx, c, "/commands/camera", nil)
			})
		},
	}
}

func (a *app) sendCommand(ctx context.Context, c *client, path string, req any) error {
	var res map[string]any
	if err := c.postJSON(ctx, path, req, &res); err != nil {
		return err
	}
	if a.v.GetBool("json") {
		return a.printJSON(res)
	}
	fmt.Fprintln(a.out, "command sent")
	return nil
}

// ─── output ─────────────────────────────────────────────────────────

func (a *app) table() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(a.out)
	return tw
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setLimit(q url.Values, limit int) {
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeFormat)
}

func enabledString(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
