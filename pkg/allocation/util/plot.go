/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package util

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/vmalloc/vmalloc/pkg/allocation/framework"
)

// PlotFrontier writes an HTML scatter plot of the found solutions in the
// energy/wastage plane to path. Reference solutions, when given, are drawn
// as a second series.
func PlotFrontier(found, reference []framework.Solution, title, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return RenderFrontier(f, found, reference, title)
}

// RenderFrontier renders the plot of PlotFrontier to w.
func RenderFrontier(w io.Writer, found, reference []framework.Solution, title string) error {
	if len(found) == 0 {
		return fmt.Errorf("no solutions to plot for %s", title)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: "energy vs. wastage, symbol size grows with migration cost",
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: "energy",
			SplitLine: &opts.SplitLine{
				Show: opts.Bool(true),
			},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: "wastage",
			SplitLine: &opts.SplitLine{
				Show: opts.Bool(true),
			},
		}))

	if len(reference) > 0 {
		scatter.AddSeries("Reference frontier", scatterData(reference, "circle", 4))
	}
	scatter.AddSeries("Found solutions", scatterData(found, "triangle", 8)).
		SetSeriesOptions(
			charts.WithLabelOpts(opts.Label{
				Show: opts.Bool(false),
			}),
			charts.WithEmphasisOpts(opts.Emphasis{}),
		)

	return scatter.Render(w)
}

func scatterData(solutions []framework.Solution, symbol string, size int) []opts.ScatterData {
	out := make([]opts.ScatterData, len(solutions))
	for i, s := range solutions {
		out[i] = opts.ScatterData{
			Name:       s.Values.String(),
			Value:      []float64{s.Values.Energy.InexactFloat64(), s.Values.Wastage.InexactFloat64()},
			Symbol:     symbol,
			SymbolSize: size + int(s.Values.Migration),
		}
	}
	return out
}
