package viz

import (
	"math"
	"strings"
)

const brailleBlank = 0x2800

// Braille cells are 2 dots wide and 4 tall.
var dotBits = [4][2]rune{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

// Canvas is a dot grid rendered with braille characters. Dot coordinates
// run from (0,0) top-left to (2*Width-1, 4*Height-1).
type Canvas struct {
	Width, Height int
	cells         [][]rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{Width: w, Height: h, cells: make([][]rune, h)}
	for i := range c.cells {
		c.cells[i] = make([]rune, w)
	}
	c.Clear()
	return c
}

func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 {
		return
	}
	col, row := x/2, y/4
	if col >= c.Width || row >= c.Height {
		return
	}
	c.cells[row][col] |= dotBits[y%4][x%2]
}

func (c *Canvas) Clear() {
	for i := range c.cells {
		for j := range c.cells[i] {
			c.cells[i][j] = brailleBlank
		}
	}
}

// DrawLine draws with Bresenham's algorithm.
func (c *Canvas) DrawLine(x0, y0, x1, y1 int) {
	dx, dy := absInt(x1-x0), absInt(y1-y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy
	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

// DrawRobot draws a chassis triangle at dot (x, y) pointing along heading
// degrees, clockwise from up.
func (c *Canvas) DrawRobot(x, y int, heading float64, size float64) {
	rad := heading * math.Pi / 180
	pt := func(ang, r float64) (int, int) {
		// Dots are twice as tall as wide on screen.
		return x + int(math.Round(r*math.Sin(ang))), y - int(math.Round(r*math.Cos(ang)*2))
	}
	nx, ny := pt(rad, size)
	lx, ly := pt(rad+2.5, size*0.7)
	rx, ry := pt(rad-2.5, size*0.7)
	c.DrawLine(nx, ny, lx, ly)
	c.DrawLine(lx, ly, rx, ry)
	c.DrawLine(rx, ry, nx, ny)
}

func (c *Canvas) String() string {
	var b strings.Builder
	for _, row := range c.cells {
		b.WriteString(string(row))
		b.WriteByte('\n')
	}
	return b.String()
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
