package output

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/hopwatch/hopwatch/internal/mtrengine"
	"github.com/olekukonko/tablewriter"
)

// sparkBlocks are the eight Unicode block levels used to render the graph
// column in live mode; RecentRTTs is bucketed min→max across these eight
// glyphs.
var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// MTRFields is the full observable column set, in the order --show-all
// renders them.
var MTRFields = []string{"hop", "host", "loss", "sent", "last", "avg", "ema", "jitter", "jitter-avg", "best", "worst", "paths", "graph"}

// HostResolver supplies a display string (hostname, or "ip (AS... Org)")
// for an address, looked up out of band from rendering. Returning "" means
// no enrichment is available yet and the bare address is shown instead.
type HostResolver interface {
	Resolve(ip string) string
}

// MTRFormatter renders mtrengine.Snapshot values as a live-updating table.
type MTRFormatter struct {
	config   Config
	colors   *ColorScheme
	fields   []string
	numeric  bool
	report   bool
	resolver HostResolver
}

// SetReportMode switches the "graph" column from a live sparkline to the
// round-trip standard deviation, which is what a finished --report prints
// instead of a bar chart of samples it no longer has a live view onto.
func (f *MTRFormatter) SetReportMode(report bool) {
	f.report = report
}

// SetResolver attaches a HostResolver used by the host column when the
// formatter isn't in numeric mode. Enrichment lookups (rDNS, ASN, GeoIP)
// happen asynchronously elsewhere; Resolve is expected to return
// immediately from a cache.
func (f *MTRFormatter) SetResolver(r HostResolver) {
	f.resolver = r
}

// NewMTRFormatter builds a formatter restricted to fields (defaulting to
// MTRFields when empty or showAll is set).
func NewMTRFormatter(config Config, fields []string, showAll, numeric bool) *MTRFormatter {
	var colors *ColorScheme
	if config.Colors {
		colors = DefaultColorScheme()
	}
	if showAll || len(fields) == 0 {
		fields = MTRFields
	}
	return &MTRFormatter{config: config, colors: colors, fields: fields, numeric: numeric}
}

// Render draws the full snapshot as a table, suitable for re-printing in
// place (the live plain-terminal table) or as the final --report output.
func (f *MTRFormatter) Render(target string, snap mtrengine.Snapshot) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "hopwatch to %s, round %d\n\n", target, snap.Round)

	table := tablewriter.NewWriter(&buf)
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetCenterSeparator("│")
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.SetHeaderLine(true)
	table.SetTablePadding(" ")

	table.SetHeader(f.headers())
	for _, hop := range snap.Hops {
		table.Append(f.row(hop))
	}
	table.Render()

	return buf.Bytes()
}

func (f *MTRFormatter) headers() []string {
	headers := make([]string, len(f.fields))
	for i, field := range f.fields {
		if field == "graph" && f.report {
			headers[i] = "STDEV"
			continue
		}
		headers[i] = strings.ToUpper(field)
	}
	return headers
}

func (f *MTRFormatter) row(h mtrengine.HopView) []string {
	row := make([]string, len(f.fields))
	for i, field := range f.fields {
		row[i] = f.cell(h, field)
	}
	return row
}

func (f *MTRFormatter) cell(h mtrengine.HopView, field string) string {
	switch field {
	case "hop":
		return fmt.Sprintf("%d", h.HopNumber)
	case "host":
		return f.hostCell(h)
	case "loss":
		return fmt.Sprintf("%.1f%%", h.LossPercent)
	case "sent":
		return fmt.Sprintf("%d", h.Sent)
	case "last":
		return formatMillis(h.Last)
	case "avg":
		return formatMillisFloat(h.Avg)
	case "ema":
		return formatMillisFloat(h.EMA)
	case "jitter":
		return formatMillis(h.JitterLast)
	case "jitter-avg":
		return formatMillisFloat(h.JitterAvg)
	case "best":
		return formatMillis(h.Best)
	case "worst":
		return formatMillis(h.Worst)
	case "paths":
		if h.PathCount <= 1 {
			return "-"
		}
		return fmt.Sprintf("%d (%.0f%%)", h.PathCount, h.PrimaryPathPercent)
	case "graph":
		if f.report {
			return stddevMillis(h.RecentRTTs)
		}
		return sparkline(h.RecentRTTs)
	default:
		return "-"
	}
}

func (f *MTRFormatter) hostCell(h mtrengine.HopView) string {
	if h.Address == "" {
		return "???"
	}
	if f.numeric || f.resolver == nil {
		return h.Address
	}
	if display := f.resolver.Resolve(h.Address); display != "" {
		return display
	}
	return h.Address
}

func formatMillis(ns int64) string {
	if ns <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", float64(ns)/1e6)
}

func formatMillisFloat(ns float64) string {
	if ns <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", ns/1e6)
}

// stddevMillis computes the sample standard deviation of samples
// (nanoseconds) and renders it in milliseconds. A report has no live view
// to chart, so it prints this number in the column the live table fills
// with a sparkline.
func stddevMillis(samples []int64) string {
	if len(samples) < 2 {
		return "0.0"
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(len(samples))

	var variance float64
	for _, s := range samples {
		d := float64(s) - mean
		variance += d * d
	}
	variance /= float64(len(samples) - 1)

	return fmt.Sprintf("%.1f", math.Sqrt(variance)/1e6)
}

// sparkline renders samples (nanoseconds, oldest first) as a block-character
// bar scaled between the set's own min and max. No example in the pack pulls
// in a charting library for terminal sparklines (see DESIGN.md); this is an
// eight-bucket mapping over sparkBlocks.
func sparkline(samples []int64) string {
	if len(samples) == 0 {
		return ""
	}
	min, max := samples[0], samples[0]
	for _, s := range samples {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	span := max - min
	var b strings.Builder
	for _, s := range samples {
		idx := 0
		if span > 0 {
			idx = int(float64(s-min) / float64(span) * float64(len(sparkBlocks)-1))
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}
