package counter

import (
	"fmt"
	"regexp"
	"strconv"
)

// SVG render customisation, all values overridable per request.
type SVGOptions struct {
	Fill     string
	Font     string
	Size     float64
	Baseline float64
	Ratio    float64
	Padding  float64
}

// DefaultSVGOptions returns the render defaults applied when a query
// parameter is absent or malformed.
func DefaultSVGOptions() SVGOptions {
	return SVGOptions{
		Fill:     "#000000",
		Font:     "sans-serif",
		Size:     16,
		Baseline: 4,
		Ratio:    0.6,
		Padding:  8,
	}
}

var (
	fillRe = regexp.MustCompile(`^[#a-zA-Z0-9(),.% -]{1,64}$`)
	fontRe = regexp.MustCompile(`^[a-zA-Z0-9, -]{1,64}$`)
)

// ParseSVGOptions fills an SVGOptions from raw query values, falling back to
// the defaults field by field. Values are validated so they cannot break out
// of the attribute they land in.
func ParseSVGOptions(get func(string) string) SVGOptions {
	o := DefaultSVGOptions()

	if fill := get("fill"); fillRe.MatchString(fill) {
		o.Fill = fill
	}
	if font := get("font"); fontRe.MatchString(font) {
		o.Font = font
	}

	parse := func(key string, out *float64, min, max float64) {
		v, err := strconv.ParseFloat(get(key), 64)
		if err == nil && v >= min && v <= max {
			*out = v
		}
	}

	parse("size", &o.Size, 1, 512)
	parse("baseline", &o.Baseline, 0, 512)
	parse("ratio", &o.Ratio, 0.1, 4)
	parse("padding", &o.Padding, 0, 512)

	return o
}

// RenderSVG draws the count as a standalone SVG document. The width is
// estimated from the glyph count and the width ratio since no font metrics
// are available server side.
func RenderSVG(count string, o SVGOptions) string {
	width := o.Size*o.Ratio*float64(len(count)) + 2*o.Padding
	height := o.Size + 2*o.Padding
	y := height - o.Padding - o.Baseline

	return fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%.2f" height="%.2f" role="img" aria-label="%s">`+
			`<text x="50%%" y="%.2f" text-anchor="middle" fill="%s" font-family="%s" font-size="%.2f">%s</text>`+
			`</svg>`,
		width, height, count, y, o.Fill, o.Font, o.Size, count,
	)
}
