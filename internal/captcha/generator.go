// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package captcha

import (
	"image/color"

	"github.com/mojocn/base64Captcha"
	"github.com/samber/oops"
)

// Generator produces a random answer and the image that renders it.
type Generator interface {
	Generate() (answer, image string, err error)
}

// Image defaults.
const (
	DefaultAnswerLength = 6
	DefaultImageWidth   = 240
	DefaultImageHeight  = 80
	DefaultNoiseCount   = 3
)

// answerSource omits glyphs that are easy to confuse (0/O, 1/I/l).
const answerSource = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz"

// ImageGenerator renders answers to PNG data URIs.
type ImageGenerator struct {
	driver *base64Captcha.DriverString
}

var _ Generator = (*ImageGenerator)(nil)

// ImageOptions configures an ImageGenerator. Zero fields take defaults.
type ImageOptions struct {
	Length     int
	Width      int
	Height     int
	NoiseCount int
}

func (o ImageOptions) withDefaults() ImageOptions {
	if o.Length <= 0 {
		o.Length = DefaultAnswerLength
	}
	if o.Width <= 0 {
		o.Width = DefaultImageWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultImageHeight
	}
	if o.NoiseCount <= 0 {
		o.NoiseCount = DefaultNoiseCount
	}
	return o
}

// NewImageGenerator creates an ImageGenerator.
func NewImageGenerator(opts ImageOptions) *ImageGenerator {
	opts = opts.withDefaults()
	background := &color.RGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}
	driver := base64Captcha.NewDriverString(
		opts.Height, opts.Width, opts.NoiseCount,
		base64Captcha.OptionShowSlimeLine|base64Captcha.OptionShowHollowLine,
		opts.Length, answerSource, background,
		base64Captcha.DefaultEmbeddedFonts, nil,
	)
	return &ImageGenerator{driver: driver.ConvertFonts()}
}

// Generate returns a fresh answer and its rendering as a data URI.
func (g *ImageGenerator) Generate() (string, string, error) {
	_, question, answer := g.driver.GenerateIdQuestionAnswer()
	item, err := g.driver.DrawCaptcha(question)
	if err != nil {
		return "", "", oops.Code("CAPTCHA_RENDER_FAILED").Wrap(err)
	}
	return answer, item.EncodeB64string(), nil
}
