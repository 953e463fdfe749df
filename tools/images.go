package tools

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/lexcodex/cellmate/framework"
)

const (
	placeholderWidth  = 400
	placeholderHeight = 300
)

// GenerateImageTool inserts a placeholder picture labelled with the prompt.
type GenerateImageTool struct {
	WB *Workbook
}

func (t *GenerateImageTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "generate_image",
		Description: "Generate an image from a prompt and insert it into the sheet.",
		Example:     map[string]interface{}{"prompt": "a cat"},
	}
}

func (t *GenerateImageTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	prompt := argString(args, "prompt")
	if prompt == "" {
		prompt = "Generated Image"
	}
	data, err := placeholderPNG()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("Gen_%d", time.Now().UnixMilli())
	if err := insertPicture(t.WB, ".png", data, name+": "+prompt); err != nil {
		return "", err
	}
	return fmt.Sprintf("SUCCESS: Generated image for '%s'", prompt), nil
}

// placeholderPNG renders a gray card with a darker title band.
func placeholderPNG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF}}, image.Point{}, draw.Src)
	band := image.Rect(0, 0, placeholderWidth, 60)
	draw.Draw(img, band, &image.Uniform{C: color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xFF}}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// InsertImageTool places a base64 encoded picture on the active sheet.
type InsertImageTool struct {
	WB *Workbook
}

func (t *InsertImageTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "insert_image",
		Description: "Insert a base64 image (optionally a data URL) into the sheet.",
		Example:     map[string]interface{}{"base64": "...", "name": "AI_Image"},
	}
}

func (t *InsertImageTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	payload := argString(args, "base64", "image")
	if payload == "" {
		return "ERROR: base64 image data is required.", nil
	}
	img, err := framework.DecodeImage(payload)
	if err != nil {
		return fmt.Sprintf("ERROR: invalid base64 image: %v", err), nil
	}
	ext, ok := imageExtension(img.Data)
	if !ok {
		return "ERROR: unsupported image format.", nil
	}
	name := argString(args, "name")
	if name == "" {
		name = fmt.Sprintf("AI_Image_%d", time.Now().UnixMilli())
	}
	if err := insertPicture(t.WB, ext, img.Data, name); err != nil {
		return "", err
	}
	return "SUCCESS: Image inserted into sheet.", nil
}

func imageExtension(data []byte) (string, bool) {
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png", true
	case "image/jpeg":
		return ".jpg", true
	case "image/gif":
		return ".gif", true
	default:
		return "", false
	}
}

// insertPicture anchors the picture near the top-left corner of the active
// sheet. The alt text carries the picture name.
func insertPicture(wb *Workbook, ext string, data []byte, alt string) error {
	return wb.Update(func(f *excelize.File) error {
		return f.AddPictureFromBytes(activeSheet(f), "B3", &excelize.Picture{
			Extension: ext,
			File:      data,
			Format: &excelize.GraphicOptions{
				AltText: alt,
				OffsetX: 50,
				OffsetY: 50,
			},
		})
	})
}
