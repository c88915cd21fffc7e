// Package chart 绘制月度心情折线图。
package chart

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"
	"strconv"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

const (
	width        = 640
	height       = 320
	marginLeft   = 40
	marginRight  = 20
	marginTop    = 32
	marginBottom = 30

	minScore = 1
	maxScore = 5
)

var (
	background = color.RGBA{R: 0xff, G: 0xfd, B: 0xf8, A: 0xff}
	gridColor  = color.RGBA{R: 0xe4, G: 0xe0, B: 0xd8, A: 0xff}
	axisColor  = color.RGBA{R: 0x8a, G: 0x84, B: 0x7a, A: 0xff}
	lineColor  = color.RGBA{R: 0xe0, G: 0x7a, B: 0x5f, A: 0xff}
	textColor  = color.RGBA{R: 0x4a, G: 0x45, B: 0x40, A: 0xff}
)

// Point 是某一天的心情分数。
type Point struct {
	Day   int
	Score int
}

// RenderMoodChart 输出 PNG 格式的折线图，横轴为当月日期，纵轴为 1-5 分。
func RenderMoodChart(title string, daysInMonth int, points []Point) ([]byte, error) {
	if daysInMonth < 1 || daysInMonth > 31 {
		return nil, fmt.Errorf("invalid days in month: %d", daysInMonth)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	plot := image.Rect(marginLeft, marginTop, width-marginRight, height-marginBottom)
	xOf := func(day int) float32 {
		if daysInMonth == 1 {
			return float32(plot.Min.X+plot.Max.X) / 2
		}
		return float32(plot.Min.X) + float32(day-1)*float32(plot.Dx())/float32(daysInMonth-1)
	}
	yOf := func(score int) float32 {
		return float32(plot.Max.Y) - float32(score-minScore)*float32(plot.Dy())/float32(maxScore-minScore)
	}

	for score := minScore; score <= maxScore; score++ {
		y := yOf(score)
		fillPolygon(dst, gridColor, [][2]float32{
			{float32(plot.Min.X), y - 0.5}, {float32(plot.Max.X), y - 0.5},
			{float32(plot.Max.X), y + 0.5}, {float32(plot.Min.X), y + 0.5},
		})
		drawText(dst, strconv.Itoa(score), marginLeft-14, int(y)+4)
	}
	fillPolygon(dst, axisColor, [][2]float32{
		{float32(plot.Min.X) - 1, float32(plot.Min.Y)}, {float32(plot.Min.X), float32(plot.Min.Y)},
		{float32(plot.Min.X), float32(plot.Max.Y)}, {float32(plot.Min.X) - 1, float32(plot.Max.Y)},
	})
	for day := 1; day <= daysInMonth; day++ {
		if day == 1 || day%5 == 0 || day == daysInMonth {
			label := strconv.Itoa(day)
			drawText(dst, label, int(xOf(day))-len(label)*7/2, height-marginBottom+18)
		}
	}
	drawText(dst, title, marginLeft, marginTop-12)

	sorted := make([]Point, 0, len(points))
	for _, p := range points {
		if p.Day < 1 || p.Day > daysInMonth {
			continue
		}
		sorted = append(sorted, Point{Day: p.Day, Score: clamp(p.Score)})
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Day < sorted[j].Day })

	for i := 1; i < len(sorted); i++ {
		strokeSegment(dst, lineColor, 2.5,
			xOf(sorted[i-1].Day), yOf(sorted[i-1].Score),
			xOf(sorted[i].Day), yOf(sorted[i].Score))
	}
	for _, p := range sorted {
		fillCircle(dst, lineColor, xOf(p.Day), yOf(p.Score), 4)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}

func fillPolygon(dst draw.Image, c color.Color, pts [][2]float32) {
	if len(pts) < 3 {
		return
	}
	b := dst.Bounds()
	r := vector.NewRasterizer(b.Dx(), b.Dy())
	r.DrawOp = draw.Over
	r.MoveTo(pts[0][0], pts[0][1])
	for _, p := range pts[1:] {
		r.LineTo(p[0], p[1])
	}
	r.ClosePath()
	r.Draw(dst, b, image.NewUniform(c), image.Point{})
}

func strokeSegment(dst draw.Image, c color.Color, w, x0, y0, x1, y1 float32) {
	dx, dy := x1-x0, y1-y0
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		return
	}
	nx, ny := -dy/length*w/2, dx/length*w/2
	fillPolygon(dst, c, [][2]float32{
		{x0 + nx, y0 + ny}, {x1 + nx, y1 + ny},
		{x1 - nx, y1 - ny}, {x0 - nx, y0 - ny},
	})
}

func fillCircle(dst draw.Image, c color.Color, cx, cy, radius float32) {
	const steps = 16
	pts := make([][2]float32, 0, steps)
	for i := 0; i < steps; i++ {
		a := 2 * math.Pi * float64(i) / steps
		pts = append(pts, [2]float32{cx + radius*float32(math.Cos(a)), cy + radius*float32(math.Sin(a))})
	}
	fillPolygon(dst, c, pts)
}

func drawText(dst draw.Image, text string, x, y int) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func clamp(score int) int {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
