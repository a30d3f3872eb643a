package recognition

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/geometry"
	"github.com/MeKo-Tech/fieldscan/internal/ocr"
	"github.com/MeKo-Tech/fieldscan/internal/ocr/mock"
)

func newSession(t *testing.T, eng *mock.Engine) *ocr.Session {
	t.Helper()
	s, err := ocr.NewSession(eng.Factory(), ocr.Profile{Name: "test", Language: "eng"}, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func frame(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func TestClassifyPhone(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		screen  fields.Screen
		keyword string
	}{
		{"nothing", "Settings\nAbout phone", fields.ScreenNone, ""},
		{"serial only", "Serial Number\nFTJHR20GPY", fields.ScreenSerial, "serial"},
		{"imei only", "IMEI\n49 015420 323751 8", fields.ScreenIMEI, "imei"},
		{"both keywords, imei pattern only", "Serial number\nIMEI 49 015420 323751 8", fields.ScreenIMEI, "imei"},
		{"both keywords, serial pattern only", "IMEI\nSerial number FTJHR20GPY", fields.ScreenSerial, "serial"},
		{"both patterns, earliest keyword", "IMEI 490154203237518\nSerial FTJHR20GPY", fields.ScreenIMEI, "imei"},
		{"neither pattern, earliest keyword", "serial\nimei", fields.ScreenSerial, "serial"},
		{"case insensitive", "SERIAL NUMBER", fields.ScreenSerial, "serial"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			screen, kw := ClassifyPhone(tt.text)
			assert.Equal(t, tt.screen, screen)
			assert.Equal(t, tt.keyword, kw)
		})
	}
}

func TestLocateKeyword(t *testing.T) {
	res := ocr.FromLines(
		ocr.Line{Text: "About", Box: geometry.Box{X0: 10, Y0: 10, X1: 80, Y1: 30}},
		ocr.Line{Text: "Serial Number", Box: geometry.Box{X0: 100, Y0: 200, X1: 200, Y1: 220}},
	)
	box := LocateKeyword(res, "serial")
	require.NotNil(t, box)
	assert.Equal(t, geometry.Box{X0: 100, Y0: 200, X1: 200, Y1: 220}, *box)

	words := ocr.FromLines(ocr.Line{Text: "IMEI 1", Words: []ocr.Word{
		{Text: "IMEI", Box: geometry.Box{X0: 5, Y0: 5, X1: 40, Y1: 15}},
	}})
	box = LocateKeyword(words, "imei")
	require.NotNil(t, box)
	assert.Equal(t, 40, box.X1)

	assert.Nil(t, LocateKeyword(&ocr.Result{Text: "Serial"}, "serial"))
	assert.Nil(t, LocateKeyword(res, ""))
}

func TestLocateKeyword_FullWidthLabel(t *testing.T) {
	res := ocr.FromLines(ocr.Line{Text: "ＳＥＲＩＡＬ ＮＵＭＢＥＲ", Box: geometry.Box{X0: 30, Y0: 60, X1: 300, Y1: 80}})

	screen, keyword := ClassifyPhone(res.Text)
	require.Equal(t, fields.ScreenSerial, screen)

	box := LocateKeyword(res, keyword)
	require.NotNil(t, box)
	assert.Equal(t, geometry.Box{X0: 30, Y0: 60, X1: 300, Y1: 80}, *box)

	words := ocr.FromLines(ocr.Line{Words: []ocr.Word{
		{Text: "ＩＭＥＩ", Box: geometry.Box{X0: 5, Y0: 5, X1: 40, Y1: 15}},
	}})
	box = LocateKeyword(words, "imei")
	require.NotNil(t, box)
	assert.Equal(t, 40, box.X1)
}

func TestDriver_SerialTwoPass(t *testing.T) {
	eng := mock.New()
	eng.OnLines(ocr.PSMSparseText, ocr.Line{Text: "Serial Number", Box: geometry.Box{X0: 100, Y0: 200, X1: 200, Y1: 220}})
	eng.OnText(ocr.PSMSingleLine, "Serial Number | FTJHR20GPY")

	d := NewDriver(newSession(t, eng), DefaultConfig())
	full := frame(1920, 1080)

	coarse, cw := d.Coarse(full)
	require.Equal(t, 640, cw)
	assert.Equal(t, 360, coarse.Bounds().Dy())

	det, err := d.DetectScreen(context.Background(), coarse)
	require.NoError(t, err)
	assert.Equal(t, fields.ScreenSerial, det.Screen)
	require.NotNil(t, det.Label)

	ext, err := d.ExtractValue(context.Background(), full, det)
	require.NoError(t, err)
	assert.Equal(t, []string{"FTJHR20GPY"}, ext.Candidates[fields.Serial])
	require.NotNil(t, ext.Plan)
	assert.Equal(t, image.Rect(300, 570, 1920, 660), ext.Plan.Crop)

	calls := eng.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ocr.PSMSparseText, calls[0].Options.Mode)
	assert.Equal(t, ocr.PSMSingleLine, calls[1].Options.Mode)
	assert.Equal(t, image.Pt(ext.Plan.OutWidth, ext.Plan.OutHeight), calls[1].Size)
	// Engine is back on the detection baseline.
	assert.Equal(t, ocr.PSMSparseText, eng.Current().Mode)
}

func TestDriver_IMEITieBreakAndSplit(t *testing.T) {
	eng := mock.New()
	eng.OnLines(ocr.PSMSparseText,
		ocr.Line{Text: "Serial number", Box: geometry.Box{X0: 10, Y0: 40, X1: 120, Y1: 60}},
		ocr.Line{Text: "IMEI", Box: geometry.Box{X0: 10, Y0: 100, X1: 60, Y1: 120}},
		ocr.Line{Text: "49 015420 323751 8", Box: geometry.Box{X0: 10, Y0: 125, X1: 200, Y1: 145}},
	)
	eng.OnText(ocr.PSMSingleBlock, "IMEI\n49 015420 323751 8\n356938035643809\n356938035643808")

	d := NewDriver(newSession(t, eng), DefaultConfig())
	full := frame(640, 480)
	coarse, _ := d.Coarse(full)

	det, err := d.DetectScreen(context.Background(), coarse)
	require.NoError(t, err)
	assert.Equal(t, fields.ScreenIMEI, det.Screen)
	require.NotNil(t, det.Label)
	assert.Equal(t, 100, det.Label.Y0)

	ext, err := d.ExtractValue(context.Background(), full, det)
	require.NoError(t, err)
	assert.Equal(t, []string{"490154203237518"}, ext.Candidates[fields.IMEI])
	assert.Equal(t, []string{"356938035643809"}, ext.Candidates[fields.IMEI2])

	// The crop reaches below the label to cover the values.
	require.NotNil(t, ext.Plan)
	assert.GreaterOrEqual(t, ext.Plan.Crop.Max.Y, 145)
}

func TestDriver_NoGeometryFallsBackToFullFrame(t *testing.T) {
	eng := mock.New()
	eng.OnText(ocr.PSMSparseText, "Serial Number FTJHR20GPY")
	eng.OnText(ocr.PSMSingleLine, "FTJHR20GPY")

	d := NewDriver(newSession(t, eng), DefaultConfig())
	full := frame(800, 600)
	coarse, _ := d.Coarse(full)

	det, err := d.DetectScreen(context.Background(), coarse)
	require.NoError(t, err)
	assert.Nil(t, det.Label)

	ext, err := d.ExtractValue(context.Background(), full, det)
	require.NoError(t, err)
	assert.Nil(t, ext.Plan)
	assert.Equal(t, []string{"FTJHR20GPY"}, ext.Candidates[fields.Serial])
	assert.Equal(t, image.Pt(800, 600), eng.Calls()[1].Size)
}

func TestDriver_NoScreenSkipsFinePass(t *testing.T) {
	eng := mock.New()
	eng.OnText(ocr.PSMSparseText, "Wi-Fi\nBluetooth")

	d := NewDriver(newSession(t, eng), DefaultConfig())
	full := frame(320, 240)
	det, err := d.DetectScreen(context.Background(), full)
	require.NoError(t, err)
	assert.False(t, det.Found())

	ext, err := d.ExtractValue(context.Background(), full, det)
	require.NoError(t, err)
	assert.Empty(t, ext.Candidates)
	assert.Equal(t, 1, eng.CallCount())
}

func TestDriver_PassErrors(t *testing.T) {
	boom := errors.New("engine exploded")
	eng := mock.New()
	eng.On(ocr.PSMSparseText, mock.Response{Err: boom})

	d := NewDriver(newSession(t, eng), DefaultConfig())
	_, err := d.DetectScreen(context.Background(), frame(100, 100))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "coarse pass")

	eng2 := mock.New()
	eng2.On(ocr.PSMSingleLine, mock.Response{Err: boom})
	d2 := NewDriver(newSession(t, eng2), DefaultConfig())
	_, err = d2.ExtractValue(context.Background(), frame(100, 100), Detection{Screen: fields.ScreenSerial, CoarseWidth: 100})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fine pass")
}

func TestDriver_CardRegions(t *testing.T) {
	eng := mock.New()
	eng.Handler = func(opts ocr.Options, img image.Image) (*ocr.Result, error) {
		switch opts.Mode {
		case ocr.PSMSparseText:
			return ocr.FromLines(
				ocr.Line{Text: "REPUBLIC OF SOUTH AFRICA", Box: geometry.Box{X0: 40, Y0: 40, X1: 600, Y1: 60}},
				ocr.Line{Text: "IDENTITY CARD", Box: geometry.Box{X0: 40, Y0: 340, X1: 600, Y1: 400}},
			), nil
		case ocr.PSMSingleLine:
			switch {
			case strings.Contains(opts.Whitelist, "-"):
				return &ocr.Result{Text: "4123-45-12345678"}, nil
			case opts.Whitelist != "":
				return &ocr.Result{Text: "800101 5009 087"}, nil
			}
			return &ocr.Result{Text: "01 JAN 1980"}, nil
		default:
			return &ocr.Result{Text: "Surname\nDOE"}, nil
		}
	}

	cfg := DefaultConfig()
	cfg.Mode = fields.ModeCard
	cfg.Preprocess = true
	d := NewDriver(newSession(t, eng), cfg)

	full := frame(1280, 960)
	coarse, _ := d.Coarse(full)
	det, err := d.DetectScreen(context.Background(), coarse)
	require.NoError(t, err)
	require.Equal(t, fields.ScreenCard, det.Screen)
	require.NotNil(t, det.Container)
	assert.Equal(t, geometry.Box{X0: 40, Y0: 40, X1: 600, Y1: 400}, *det.Container)

	ext, err := d.ExtractValue(context.Background(), full, det)
	require.NoError(t, err)
	assert.Equal(t, []string{"8001015009087"}, ext.Candidates[fields.IDNumber])
	assert.Equal(t, []string{"DOE"}, ext.Candidates[fields.LastName])
	assert.Equal(t, []string{"01 JAN 1980"}, ext.Candidates[fields.DateOfBirth])
	assert.Equal(t, []string{"4123-45-12345678"}, ext.Candidates[fields.LaserCode])
	assert.NotNil(t, ext.Crop)

	// One coarse call plus one per card region.
	assert.Equal(t, 1+len(fields.ScreenCard.Kinds()), eng.CallCount())
}
