package starch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/image/draw"

	"github.com/eringen/starch/entity"
)

const (
	maxImageWidth = 1600
	jpegQuality   = 80
	maxUploadSize = 10 << 20 // 10MB
)

// processedImage is an uploaded image re-encoded as JPEG together with
// every configured size.
type processedImage struct {
	Base   string // file name without extension
	Width  int
	Height int
	Data   []byte
	Sizes  map[string]sizedImage
}

type sizedImage struct {
	Width  int
	Height int
	Data   []byte
}

// processImage decodes src, limits it to maxImageWidth and renders each
// thumbnail size. Sizes larger than the original are skipped.
func processImage(src io.Reader, originalName string, sizes []ThumbnailSize) (processedImage, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return processedImage{}, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Dx() > maxImageWidth {
		img = scale(img, maxImageWidth, 0)
	}
	data, err := encodeJPEG(img)
	if err != nil {
		return processedImage{}, err
	}

	base := Slugify(strings.TrimSuffix(originalName, filepath.Ext(originalName)))
	if base == "" {
		base = "image"
	}
	out := processedImage{
		Base:   base,
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
		Data:   data,
		Sizes:  make(map[string]sizedImage),
	}
	for _, size := range sizes {
		if size.Width <= 0 || size.Width > out.Width || size.Height > out.Height {
			continue
		}
		var resized image.Image
		if size.Crop && size.Height > 0 {
			resized = cropFill(img, size.Width, size.Height)
		} else {
			resized = scale(img, size.Width, size.Height)
		}
		data, err := encodeJPEG(resized)
		if err != nil {
			return processedImage{}, err
		}
		out.Sizes[size.Name] = sizedImage{Width: resized.Bounds().Dx(), Height: resized.Bounds().Dy(), Data: data}
	}
	return out, nil
}

// scale fits img inside width x height keeping the aspect ratio. A zero
// height only bounds the width.
func scale(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	w, h := width, b.Dy()*width/b.Dx()
	if height > 0 && h > height {
		w, h = b.Dx()*height/b.Dy(), height
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// cropFill scales img to cover width x height and crops the centre.
func cropFill(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	// source rectangle with the target aspect ratio
	sw, sh := b.Dx(), b.Dx()*height/width
	if sh > b.Dy() {
		sw, sh = b.Dy()*width/height, b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-sw)/2
	y0 := b.Min.Y + (b.Dy()-sh)/2
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, image.Rect(x0, y0, x0+sw, y0+sh), draw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// uniqueBase appends a counter to base until no file of that name exists
// in dir.
func uniqueBase(dir, base string) string {
	candidate := base
	for n := 2; ; n++ {
		if _, err := os.Stat(filepath.Join(dir, candidate+".jpg")); os.IsNotExist(err) {
			return candidate
		}
		candidate = base + "-" + strconv.Itoa(n)
	}
}

// storeUpload writes the image and its sizes below the uploads directory
// in a year/month folder and returns the attachment metadata. File paths
// in the metadata are relative to the uploads directory, size files to the
// folder of the original.
func (a *App) storeUpload(img processedImage, now time.Time) (entity.AttachmentMeta, error) {
	folder := now.Format("2006/01")
	dir := filepath.Join(a.Config.UploadsDir, filepath.FromSlash(folder))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return entity.AttachmentMeta{}, fmt.Errorf("create uploads dir: %w", err)
	}
	base := uniqueBase(dir, img.Base)
	meta := entity.AttachmentMeta{
		File:   path.Join(folder, base+".jpg"),
		Width:  img.Width,
		Height: img.Height,
		Sizes:  make(map[string]entity.ImageSize),
	}
	if err := os.WriteFile(filepath.Join(dir, base+".jpg"), img.Data, 0o644); err != nil {
		return entity.AttachmentMeta{}, fmt.Errorf("write image: %w", err)
	}
	for name, s := range img.Sizes {
		file := fmt.Sprintf("%s-%dx%d.jpg", base, s.Width, s.Height)
		if err := os.WriteFile(filepath.Join(dir, file), s.Data, 0o644); err != nil {
			return entity.AttachmentMeta{}, fmt.Errorf("write %s size: %w", name, err)
		}
		meta.Sizes[name] = entity.ImageSize{File: file, Width: s.Width, Height: s.Height}
	}
	return meta, nil
}

// removeUpload deletes the files of an attachment. Missing files are
// ignored.
func (a *App) removeUpload(meta *entity.AttachmentMeta) {
	if meta == nil || meta.File == "" {
		return
	}
	full := filepath.Join(a.Config.UploadsDir, filepath.FromSlash(meta.File))
	_ = os.Remove(full)
	for _, s := range meta.Sizes {
		_ = os.Remove(filepath.Join(filepath.Dir(full), s.File))
	}
}

func (a *App) handleMediaUpload(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	file, err := c.FormFile("image")
	if err != nil {
		return c.String(http.StatusBadRequest, "No image file provided")
	}
	if file.Size > maxUploadSize {
		return c.String(http.StatusBadRequest, "File too large (max 10MB)")
	}
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	img, err := processImage(src, file.Filename, a.Config.Thumbnails)
	if err != nil {
		return c.String(http.StatusBadRequest, "Invalid image: "+err.Error())
	}
	now := time.Now().UTC()
	meta, err := a.storeUpload(img, now)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	parent, _ := strconv.ParseInt(c.FormValue("parent"), 10, 64)
	rec, err := a.Store.Save(ctx, entity.Record{
		Type:     entity.TypeAttachment,
		Status:   entity.StatusPublish,
		Title:    strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename)),
		Slug:     path.Base(strings.TrimSuffix(meta.File, ".jpg")),
		ParentID: parent,
		MimeType: "image/jpeg",
		File:     meta.File,
		Date:     now,
	})
	if err != nil {
		a.removeUpload(&meta)
		return err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := a.Store.SetMeta(ctx, rec.ID, entity.MetaAttachment, string(raw)); err != nil {
		return err
	}
	a.Cache.Invalidate()
	return a.renderMedia(c)
}

func (a *App) handleMediaDelete(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.String(http.StatusBadRequest, "Invalid id")
	}
	ctx := c.Request().Context()
	model, err := a.Entities.Get(ctx, id)
	if err != nil {
		return err
	}
	att, ok := model.(*entity.Attachment)
	if !ok {
		return c.String(http.StatusBadRequest, "Not an attachment")
	}
	meta, err := att.Metadata(ctx)
	if err != nil {
		return err
	}
	a.removeUpload(meta)
	if err := a.Store.Delete(ctx, id); err != nil {
		return err
	}
	a.Cache.Invalidate()
	return a.renderMedia(c)
}

func (a *App) handleMediaList(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	return a.renderMedia(c)
}

func (a *App) renderMedia(c echo.Context) error {
	models, err := a.Entities.Find(c.Request().Context(), entity.Query{Type: entity.TypeAttachment})
	if err != nil {
		return err
	}
	items := make([]*entity.Attachment, 0, len(models))
	for _, m := range models {
		if att, ok := m.(*entity.Attachment); ok {
			items = append(items, att)
		}
	}
	return renderStatus(c, http.StatusOK, a.Views.AdminMedia(items, CSRFToken(c)))
}
