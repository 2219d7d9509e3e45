package render

import (
	"bytes"
	"context"
	"errors"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ChartRenderer draws a temperature line chart as PNG.
type ChartRenderer struct {
	width  int
	height int
}

func NewChartRenderer() *ChartRenderer {
	return &ChartRenderer{width: 1000, height: 500}
}

// RenderChart plots points in order, labelling the x axis with each
// point's Label. At least two points are needed to draw a line.
func (r *ChartRenderer) RenderChart(ctx context.Context, title string, points []Point) ([]byte, error) {
	if len(points) < 2 {
		return nil, &Error{Kind: KindChart, Err: errors.New("need at least two points")}
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	ticks := make([]chart.Tick, len(points))
	for i, p := range points {
		xs[i] = float64(i)
		ys[i] = p.Value
		ticks[i] = chart.Tick{Value: float64(i), Label: p.Label}
	}

	graph := chart.Chart{
		Title:  title,
		Width:  r.width,
		Height: r.height,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "Date",
			Ticks: ticks,
		},
		YAxis: chart.YAxis{
			Name: "Temperature (°C)",
			GridMajorStyle: chart.Style{
				StrokeColor: drawing.ColorFromHex("dddddd"),
				StrokeWidth: 1,
			},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name: title,
				Style: chart.Style{
					StrokeColor: drawing.ColorBlue,
					StrokeWidth: 2,
					DotColor:    drawing.ColorBlue,
					DotWidth:    4,
				},
				XValues: xs,
				YValues: ys,
			},
		},
	}

	type result struct {
		png []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		var buf bytes.Buffer
		err := graph.Render(chart.PNG, &buf)
		done <- result{png: buf.Bytes(), err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &Error{Kind: KindChart, Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			return nil, &Error{Kind: KindChart, Err: res.err}
		}
		return res.png, nil
	}
}
