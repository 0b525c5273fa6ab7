// Package watermark composites the attendance overlay (time, date, weekday,
// employee code, location) onto a captured photo. The transform is pure and
// CPU-bound; it runs only inside the capture worker goroutines, never on
// the thread driving user interaction.
package watermark

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	"github.com/go-fonts/dejavu/dejavusans"
	"github.com/go-fonts/dejavu/dejavusansbold"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

// Options carries the metadata rendered into the overlay.
type Options struct {
	EmployeeCode string
	Latitude     *float64
	Longitude    *float64
	Address      string    // preferred over coordinates when present
	Timestamp    time.Time // zero value means now
}

const (
	// Sources at or above this width are downscaled; smaller ones keep
	// their dimensions (never upscale).
	resizeThreshold = 1000
	targetWidth     = 1280

	jpegQuality = 85
)

var (
	colorText     = color.NRGBA{255, 255, 255, 255}
	colorLocation = color.NRGBA{0xDD, 0xDD, 0xDD, 255}
	colorAccent   = color.NRGBA{0xFF, 0xC1, 0x07, 255} // amber
)

var (
	fontOnce    sync.Once
	fontRegular *opentype.Font
	fontBold    *opentype.Font
	fontErr     error
)

// loadFonts parses the embedded DejaVu Sans faces. The overlay renders
// Vietnamese weekday and address text, so the font must cover the
// precomposed Vietnamese range the Go fonts lack.
func loadFonts() (*opentype.Font, *opentype.Font, error) {
	fontOnce.Do(func() {
		fontRegular, fontErr = opentype.Parse(dejavusans.TTF)
		if fontErr != nil {
			return
		}
		fontBold, fontErr = opentype.Parse(dejavusansbold.TTF)
	})
	return fontRegular, fontBold, fontErr
}

// Apply decodes src, scales it, paints the gradient shadow and text blocks,
// and re-encodes the result as JPEG at quality 85.
func Apply(src []byte, opts Options) ([]byte, error) {
	decoded, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to decode source image: %w", err)
	}

	img := scale(decoded)
	drawShadow(img)
	if err := drawOverlay(img, opts); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// scale downscales wide sources to the target width, preserving aspect
// ratio. Narrow sources pass through at their original size.
func scale(src image.Image) *image.NRGBA {
	w := src.Bounds().Dx()
	if w >= resizeThreshold {
		return imaging.Resize(src, targetWidth, 0, imaging.Lanczos)
	}
	return imaging.Clone(src)
}

// drawShadow paints the bottom-anchored gradient: transparent at the top of
// the band, 20% black at 30% of its height, 85% black at the bottom edge.
func drawShadow(img *image.NRGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	shadowH := float64(h) * 0.4
	start := h - int(shadowH)

	for y := start; y < h; y++ {
		t := (float64(y) - float64(start)) / shadowH
		var a float64
		if t <= 0.3 {
			a = t / 0.3 * 0.2
		} else {
			a = 0.2 + (t-0.3)/0.7*0.65
		}
		keep := 1 - a
		row := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < w; x++ {
			o := row + x*4
			img.Pix[o+0] = uint8(float64(img.Pix[o+0]) * keep)
			img.Pix[o+1] = uint8(float64(img.Pix[o+1]) * keep)
			img.Pix[o+2] = uint8(float64(img.Pix[o+2]) * keep)
		}
	}
}

// metrics are all fractions of the smaller image dimension so the overlay
// keeps its proportions on portrait and landscape captures alike.
type metrics struct {
	fsTime, fsDate, fsCode, fsLocation int
	padding, lineGap, blockGap         int
	barWidth, barGap                   int
}

func computeMetrics(w, h int) metrics {
	min := w
	if h < min {
		min = h
	}
	m := metrics{
		fsTime:     int(float64(min) * 0.14),
		fsDate:     int(float64(min) * 0.045),
		fsCode:     int(float64(min) * 0.035),
		fsLocation: int(float64(min) * 0.03),
		padding:    int(float64(min) * 0.04),
		lineGap:    int(float64(min) * 0.015),
		blockGap:   int(float64(min) * 0.02),
		barWidth:   int(float64(min) * 0.008),
	}
	if m.barWidth < 2 {
		m.barWidth = 2
	}
	m.barGap = int(float64(m.fsTime) * 0.45)
	return m
}

func drawOverlay(img *image.NRGBA, opts Options) error {
	regular, bold, err := loadFonts()
	if err != nil {
		return fmt.Errorf("failed to load overlay fonts: %w", err)
	}

	b := img.Bounds()
	m := computeMetrics(b.Dx(), b.Dy())

	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	timeStr := ts.Format("15:04")
	dateStr := ts.Format("02/01/2006")
	weekdayStr := capitalize(vietnameseWeekday(ts.Weekday()))
	locationStr := LocationText(opts)

	// Drawn bottom-up from the padding-inset bottom-left corner.
	baseline := b.Dy() - m.padding

	if locationStr != "" {
		if _, err := drawText(img, regular, m.fsLocation, colorLocation, m.padding, baseline, locationStr); err != nil {
			return err
		}
		baseline -= m.fsLocation + m.lineGap
	}

	if _, err := drawText(img, regular, m.fsCode, colorText, m.padding, baseline, opts.EmployeeCode); err != nil {
		return err
	}

	timeBaseline := baseline - m.fsCode - m.blockGap
	timeWidth, err := drawText(img, bold, m.fsTime, colorText, m.padding, timeBaseline, timeStr)
	if err != nil {
		return err
	}

	// Vertical accent bar between the time and the date stack.
	barX := m.padding + timeWidth + m.barGap
	barTop := timeBaseline - int(float64(m.fsTime)*0.72)
	barH := int(float64(m.fsTime) * 0.75)
	fillRect(img, barX, barTop, m.barWidth, barH, colorAccent)

	// Two-line date stack, weekday baseline-aligned with the time text.
	dateX := barX + m.barWidth + m.barGap
	dateBaseline := timeBaseline - int(float64(m.fsTime)*0.42)
	if _, err := drawText(img, regular, m.fsDate, colorText, dateX, dateBaseline, dateStr); err != nil {
		return err
	}
	if _, err := drawText(img, regular, m.fsDate, colorText, dateX, timeBaseline, weekdayStr); err != nil {
		return err
	}
	return nil
}

// drawText renders s at the given baseline and returns its advance width.
func drawText(img *image.NRGBA, fnt *opentype.Font, size int, col color.Color, x, baseline int, s string) (int, error) {
	face, err := opentype.NewFace(fnt, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create font face: %w", err)
	}
	defer face.Close()

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	width := d.MeasureString(s).Ceil()
	d.DrawString(s)
	return width, nil
}

func fillRect(img *image.NRGBA, x, y, w, h int, col color.NRGBA) {
	b := img.Bounds()
	for yy := y; yy < y+h; yy++ {
		if yy < b.Min.Y || yy >= b.Max.Y {
			continue
		}
		for xx := x; xx < x+w; xx++ {
			if xx < b.Min.X || xx >= b.Max.X {
				continue
			}
			img.SetNRGBA(xx, yy, col)
		}
	}
}

// LocationText picks the overlay's location line: a reverse-geocoded
// address when available, else coordinates to six decimal places.
func LocationText(opts Options) string {
	if opts.Address != "" {
		return opts.Address
	}
	if opts.Latitude != nil && opts.Longitude != nil {
		return fmt.Sprintf("%.6f, %.6f", *opts.Latitude, *opts.Longitude)
	}
	return "Unknown Location"
}

func vietnameseWeekday(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "thứ hai"
	case time.Tuesday:
		return "thứ ba"
	case time.Wednesday:
		return "thứ tư"
	case time.Thursday:
		return "thứ năm"
	case time.Friday:
		return "thứ sáu"
	case time.Saturday:
		return "thứ bảy"
	default:
		return "chủ nhật"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
