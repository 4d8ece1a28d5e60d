// xla_fleet_bench drives a device fleet through the client API and reports what the
// coordination layer measured: a replicated axpy loop across the local devices, a small
// chained dataflow graph, and the metrics report at the end.
//
// It is written against the in-process simulated fleet ("sim" backend), whose programs are
// plain Go functions. Example:
//
//	xla_fleet_bench --backend=sim:TPU=4x2,CPU=1 --steps=500 --seed=42
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/mruberry/xla/client"
	"github.com/mruberry/xla/client/sim"
	"github.com/mruberry/xla/metrics"
	"github.com/mruberry/xla/types"
	"github.com/mruberry/xla/types/shapes"
	"github.com/mruberry/xla/types/tensors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "sim:TPU=4x2,CPU=1", "Backend to drive, as \"name:config\". "+
		"If empty, the "+client.XLA_BACKEND+" environment variable and the registered default are used.")
	flagDevices = flag.String("devices", "", "Comma-separated list of local devices to replicate over. "+
		"Empty takes every local device.")
	flagSteps   = flag.Int("steps", 200, "Number of replicated execution steps to run.")
	flagSize    = flag.Int("size", 1<<16, "Number of float32 elements per replica input.")
	flagChained = flag.Bool("chained", true, "Also run a chained dataflow graph on the default device.")
	flagSeed    = flag.Uint64("seed", 0, "Seed of the backend's simulated dispatch jitter. 0 disables it.")
	flagReport  = flag.Bool("report", true, "Print the metrics report at the end.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'xla_fleet_bench -help'.", flag.Args())
		os.Exit(1)
	}

	var c client.Client
	var err error
	if *flagBackend != "" {
		c, err = client.NewWithConfig(*flagBackend)
	} else {
		c, err = client.New()
	}
	if err != nil {
		klog.Errorf("Failed to create the backend client: %+v", err)
		os.Exit(1)
	}
	defer c.Finalize()
	if *flagSeed != 0 {
		c.SetRngSeed(*flagSeed)
	}

	devices := pickDevices(c)
	fleetSummary(c, devices)
	runReplicated(c, devices)
	if *flagChained {
		runChained(c)
	}
	if *flagReport {
		fmt.Println(titleStyle.Render("Metrics"))
		fmt.Print(metrics.CreateMetricReport())
	}
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// pickDevices returns the local devices the replicated loop runs on, after applying the
// -devices filter.
func pickDevices(c client.Client) []string {
	local := c.LocalDevices()
	if *flagDevices == "" {
		return local
	}
	wanted := types.MakeSet[string]()
	for _, device := range strings.Split(*flagDevices, ",") {
		wanted.Insert(strings.TrimSpace(device))
	}
	picked := make([]string, 0, len(local))
	for _, device := range local {
		if wanted.Has(device) {
			picked = append(picked, device)
		}
	}
	if len(picked) == 0 {
		klog.Errorf("No local device matches -devices=%q. Local devices: %s",
			*flagDevices, strings.Join(local, ", "))
		os.Exit(1)
	}
	return picked
}

func fleetSummary(c client.Client, devices []string) {
	fmt.Println(titleStyle.Render("Fleet"))
	table := newPlainTable(false)
	table.Row("backend", c.Name())
	table.Row("description", c.Description())
	table.Row("# devices", humanize.Comma(int64(c.NumDevices())))
	table.Row("local", strings.Join(c.LocalDevices(), ", "))
	table.Row("replicating over", strings.Join(devices, ", "))
	table.Row("default", c.DefaultDevice())
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Resource Domains"))
	domains := newPlainTable(true)
	domains.Row("Device", "Domain")
	for _, device := range c.AllDevices() {
		domains.Row(device, must.M1(c.ResourceDomain(device)))
	}
	fmt.Println(domains.Render())
}

// axpyProgram computes y' = a*x + y over float32 vectors.
func axpyProgram(shape shapes.Shape, a float32) *sim.Program {
	return &sim.Program{
		Name:       "axpy",
		Parameters: []shapes.Shape{shape, shape},
		Output:     shape,
		Apply: func(args []*tensors.Tensor) (*tensors.Tensor, error) {
			x := tensors.CopyFlatData[float32](args[0])
			y := tensors.CopyFlatData[float32](args[1])
			for ii := range y {
				y[ii] += a * x[ii]
			}
			result := tensors.FromShape(shape)
			tensors.AssignFlatData(result, y)
			return result, nil
		},
	}
}

// scaleProgram multiplies a float32 vector by a constant factor.
func scaleProgram(shape shapes.Shape, factor float32) *sim.Program {
	return &sim.Program{
		Name:       fmt.Sprintf("scale_%g", factor),
		Parameters: []shapes.Shape{shape},
		Output:     shape,
		Apply: func(args []*tensors.Tensor) (*tensors.Tensor, error) {
			flat := tensors.CopyFlatData[float32](args[0])
			for ii := range flat {
				flat[ii] *= factor
			}
			result := tensors.FromShape(shape)
			tensors.AssignFlatData(result, flat)
			return result, nil
		},
	}
}

// runReplicated runs an axpy loop replicated over the given devices: x is uploaded once per
// replica, y cycles through the loop, each step's output becoming the next step's input.
func runReplicated(c client.Client, devices []string) {
	shape := shapes.Make(dtypes.Float32, *flagSize)
	comp := must.M1(c.Compile([]client.CompileInstance{
		{Program: axpyProgram(shape, 0.5), Device: devices[0], Devices: devices},
	}))[0]
	defer comp.Finalize()
	c.SetReplicationDevices(devices)

	sources := make([]client.TensorSource, 0, 2*len(devices))
	for ii, device := range devices {
		x := tensors.FromScalarAndDimensions(float32(ii+1), *flagSize)
		y := tensors.FromScalarAndDimensions(float32(0), *flagSize)
		sources = append(sources, client.SourceFromTensor(x, device), client.SourceFromTensor(y, device))
	}
	handles := must.M1(c.TransferToServer(sources))
	xs := make([]client.Data, len(devices))
	ys := make([]client.Data, len(devices))
	for ii := range devices {
		xs[ii] = handles[2*ii]
		ys[ii] = handles[2*ii+1]
	}

	bar := progressbar.NewOptions(*flagSteps,
		progressbar.OptionSetDescription(fmt.Sprintf("axpy over %d replicas: ", len(devices))),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	start := time.Now()
	for step := 0; step < *flagSteps; step++ {
		arguments := make([][]client.Data, len(devices))
		for ii := range devices {
			arguments[ii] = []client.Data{xs[ii], ys[ii]}
		}
		results := must.M1(c.ExecuteReplicated(comp, arguments, devices, client.DefaultExecuteReplicatedOptions()))
		for ii, outs := range results {
			ys[ii].Finalize()
			ys[ii] = outs[0]
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Println()
	elapsed := time.Since(start)

	value := must.M1(c.TransferFromServer([]client.Data{ys[0]}))[0]
	for ii := range devices {
		xs[ii].Finalize()
		ys[ii].Finalize()
	}

	fmt.Println(titleStyle.Render("Replicated Loop"))
	table := newPlainTable(false)
	table.Row("steps", humanize.Comma(int64(*flagSteps)))
	table.Row("replicas", humanize.Comma(int64(len(devices))))
	table.Row("elements / replica", humanize.Comma(int64(*flagSize)))
	table.Row("bytes / replica", humanize.Bytes(uint64(shape.Memory())))
	table.Row("processed", humanize.Bytes(uint64(shape.Memory())*uint64(len(devices))*uint64(*flagSteps)))
	table.Row("wall time", elapsed.Round(time.Millisecond).String())
	table.Row("per step", (elapsed / time.Duration(*flagSteps)).Round(time.Microsecond).String())
	table.Row("y[0] after loop", fmt.Sprintf("%g", tensors.CopyFlatData[float32](value)[0]))
	fmt.Println(table.Render())
}

// runChained executes x -> double -> double on the default device, exporting both the
// intermediate 2x and the final 4x.
func runChained(c client.Client) {
	device := c.DefaultDevice()
	const size = 8
	shape := shapes.Make(dtypes.Float32, size)
	double := must.M1(c.Compile([]client.CompileInstance{
		{Program: scaleProgram(shape, 2), Device: device},
	}))[0]
	defer double.Finalize()

	x := must.M1(c.TransferToServer([]client.TensorSource{
		client.SourceFromTensor(tensors.FromScalarAndDimensions(float32(3), size), device),
	}))[0]
	defer x.Finalize()

	results := must.M1(c.ExecuteChained([]client.ChainedOp{
		{Data: x},
		{
			Computation: double,
			Inputs:      []client.ChainedInput{{OpIndex: 0}},
			Outputs:     []client.ChainedOutput{{ResultIndex: 1}},
		},
		{
			Computation: double,
			Inputs:      []client.ChainedInput{{OpIndex: 1}},
			Outputs:     []client.ChainedOutput{{ResultIndex: 0}},
		},
	}, device))
	values := must.M1(c.TransferFromServer(results))
	for _, result := range results {
		result.Finalize()
	}

	fmt.Println(titleStyle.Render("Chained Graph"))
	table := newPlainTable(false)
	table.Row("device", device)
	table.Row("graph", "x -> double -> double")
	table.Row("x[0]", "3")
	table.Row("2x[0]", fmt.Sprintf("%g", tensors.CopyFlatData[float32](values[1])[0]))
	table.Row("4x[0]", fmt.Sprintf("%g", tensors.CopyFlatData[float32](values[0])[0]))
	fmt.Println(table.Render())
}
