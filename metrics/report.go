package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// reportPercentiles are the percentiles included in the metric report.
var reportPercentiles = []int{1, 5, 10, 20, 50, 80, 90, 95, 99}

// CreateMetricReport returns the textual report of every metric and counter
// registered in the Default arena.
func CreateMetricReport() string {
	return Default().CreateMetricReport()
}

// CreateMetricReport returns a textual report of every registered metric and
// counter, in sorted name order so the output is deterministic. The report is
// a diagnostic export, not meant for machine consumption.
func (a *Arena) CreateMetricReport() string {
	var b strings.Builder
	a.ForEachMetric(func(name string, data *MetricData) {
		emitMetricInfo(&b, name, data)
	})
	a.ForEachCounter(func(name string, data *CounterData) {
		emitCounterInfo(&b, name, data)
	})
	return b.String()
}

func emitMetricInfo(b *strings.Builder, name string, data *MetricData) {
	samples, accumulator, totalSamples := data.Samples()
	fmt.Fprintf(b, "Metric: %s\n", name)
	fmt.Fprintf(b, "  TotalSamples: %d\n", totalSamples)
	fmt.Fprintf(b, "  Accumulator: %s\n", data.Repr(accumulator))
	if len(samples) == 0 {
		return
	}

	// Value and event rates over the retained sample window.
	var total float64
	for _, sample := range samples {
		total += sample.Value
	}
	windowSeconds := samples[len(samples)-1].Time.Sub(samples[0].Time).Seconds()
	if windowSeconds > 0 {
		fmt.Fprintf(b, "  ValueRate: %s / second\n", data.Repr(total/windowSeconds))
		fmt.Fprintf(b, "  Rate: %g / second\n", float64(len(samples))/windowSeconds)
	}

	// Percentiles of the retained sample values.
	sort.Slice(samples, func(i, j int) bool { return samples[i].Value < samples[j].Value })
	b.WriteString("  Percentiles: ")
	for ii, percentile := range reportPercentiles {
		if ii > 0 {
			b.WriteString("; ")
		}
		index := percentile * len(samples) / 100
		fmt.Fprintf(b, "%d%%=%s", percentile, data.Repr(samples[index].Value))
	}
	b.WriteString("\n")
}

func emitCounterInfo(b *strings.Builder, name string, data *CounterData) {
	fmt.Fprintf(b, "Counter: %s\n", name)
	fmt.Fprintf(b, "  Value: %d\n", data.Value())
}
