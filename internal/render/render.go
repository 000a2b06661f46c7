// Package render draws the PNG artifacts handed to ticket holders: the QR
// code of a ticket's verify link and a printable ticket card.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"time"

	"github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/iliyamo/parkqr/internal/model"
)

const (
	TicketWidth  = 600
	TicketHeight = 800

	defaultQRSize  = 300
	headerHeight   = 90
	textLeft       = 48
	lineHeight     = 26
	ticketQRSize   = 320
	maxTicketScale = 3
)

var (
	colorInk    = color.RGBA{0x1f, 0x29, 0x37, 0xff}
	colorHeader = color.RGBA{0x25, 0x63, 0xeb, 0xff}
	colorMuted  = color.RGBA{0x6b, 0x72, 0x80, 0xff}
)

// Renderer encodes QR codes and ticket cards.  The zero value is usable.
type Renderer struct {
	// QRSize is the edge length in pixels of standalone QR codes.
	QRSize int
	// Location is used to print entry times; UTC when nil.
	Location *time.Location
}

// New returns a Renderer printing times in loc.
func New(loc *time.Location) *Renderer {
	return &Renderer{QRSize: defaultQRSize, Location: loc}
}

// QRCode encodes url as a PNG QR code.
func (r *Renderer) QRCode(url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("render: empty qr payload")
	}
	size := r.QRSize
	if size <= 0 {
		size = defaultQRSize
	}
	data, err := qrcode.Encode(url, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render: encode qr: %w", err)
	}
	return data, nil
}

// TicketImage draws a 600x800 printable ticket with the plate, vehicle
// class, entry time, tariff, token and a QR code of verifyURL.
func (r *Renderer) TicketImage(t *model.Ticket, verifyURL string, ratePerHour int64) ([]byte, error) {
	if t == nil {
		return nil, errors.New("render: nil ticket")
	}
	q, err := qrcode.New(verifyURL, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("render: encode qr: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, TicketWidth, TicketHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, 0, TicketWidth, headerHeight), image.NewUniform(colorHeader), image.Point{}, draw.Src)

	drawCentered(img, "PARKING TICKET", headerHeight/2-8, color.White, 3)
	drawCentered(img, "keep this ticket until you exit", headerHeight/2+22, color.White, 1)

	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	y := headerHeight + 50
	for _, line := range []struct {
		label, value string
	}{
		{"PLATE", t.Plate},
		{"VEHICLE", string(t.VehicleClass)},
		{"ENTRY", t.EntryTime.In(loc).Format("2006-01-02 15:04")},
		{"RATE", formatRate(ratePerHour)},
	} {
		drawText(img, line.label, textLeft, y, colorMuted, 1)
		drawText(img, line.value, textLeft+120, y, colorInk, 2)
		y += lineHeight + 12
	}

	qrImg := q.Image(ticketQRSize)
	qrTop := y + 10
	qrLeft := (TicketWidth - ticketQRSize) / 2
	draw.Draw(img, image.Rect(qrLeft, qrTop, qrLeft+ticketQRSize, qrTop+ticketQRSize), qrImg, image.Point{}, draw.Src)

	drawCentered(img, "TOKEN", qrTop+ticketQRSize+28, colorMuted, 1)
	drawCentered(img, t.Token, qrTop+ticketQRSize+50, colorInk, 1)
	drawCentered(img, "scan at the exit or visit", TicketHeight-50, colorMuted, 1)
	drawCentered(img, verifyURL, TicketHeight-30, colorMuted, 1)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("render: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func formatRate(cents int64) string {
	return fmt.Sprintf("$%d.%02d / hour", cents/100, cents%100)
}

// drawText writes s with its baseline at y.  basicfont has a single size,
// so larger text is drawn on a scratch image and scaled up.
func drawText(dst draw.Image, s string, x, y int, c color.Color, scale int) {
	face := basicfont.Face7x13
	if scale <= 1 {
		d := &font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: face, Dot: fixed.P(x, y)}
		d.DrawString(s)
		return
	}
	if scale > maxTicketScale {
		scale = maxTicketScale
	}
	w := font.MeasureString(face, s).Ceil()
	h := face.Height
	scratch := image.NewAlpha(image.Rect(0, 0, w, h))
	d := &font.Drawer{Dst: scratch, Src: image.Opaque, Face: face, Dot: fixed.P(0, face.Ascent)}
	d.DrawString(s)

	src := image.NewUniform(c)
	top := y - face.Ascent*scale
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			if scratch.AlphaAt(px, py).A == 0 {
				continue
			}
			cell := image.Rect(x+px*scale, top+py*scale, x+(px+1)*scale, top+(py+1)*scale)
			draw.Draw(dst, cell, src, image.Point{}, draw.Over)
		}
	}
}

func drawCentered(dst draw.Image, s string, y int, c color.Color, scale int) {
	if scale < 1 {
		scale = 1
	}
	w := font.MeasureString(basicfont.Face7x13, s).Ceil() * scale
	x := (dst.Bounds().Dx() - w) / 2
	if x < 0 {
		x = 0
	}
	drawText(dst, s, x, y, c, scale)
}
