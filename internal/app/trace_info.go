package app

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/relabs-tech/gps_receiver/internal/trace"
)

// RunTraceInfo prints per-device statistics for each trace file in paths.
func RunTraceInfo(out io.Writer, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("usage: trace_info <trace.csv>...")
	}
	for i, p := range paths {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if err := describeTraceFile(out, p); err != nil {
			return err
		}
	}
	return nil
}

func describeTraceFile(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sess, err := trace.Read(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	a := trace.Analyze(sess)

	fmt.Fprintf(out, "%s\n", path)
	if !sess.StartTime.IsZero() {
		fmt.Fprintf(out, "  recorded: %s .. %s\n",
			sess.StartTime.Format(time.RFC3339), sess.EndTime.Format(time.RFC3339))
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  DEVICE\tPOINTS\tDISTANCE (m)")
	for _, d := range a.Devices {
		fmt.Fprintf(tw, "  %s\t%d\t%.1f\n", d.Device, len(d.Points), d.DistanceM)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "  total distance: %.1f m\n", a.DistanceM)
	if a.Duration > 0 {
		fmt.Fprintf(out, "  duration: %s\n", a.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintln(out, "  duration: unknown")
	}
	if a.Skipped > 0 {
		fmt.Fprintf(out, "  skipped rows: %d\n", a.Skipped)
	}
	return nil
}
