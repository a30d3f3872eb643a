package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDF serves the largest embedded image of one page, for scans delivered
// as PDF.
type PDF struct {
	mu   sync.RWMutex
	path string
	page int
	img  image.Image
}

// NewPDF returns a source for page (1-based) of the file at path.
func NewPDF(path string, page int) *PDF {
	if page < 1 {
		page = 1
	}
	return &PDF{path: path, page: page}
}

func (p *PDF) Kind() Kind { return KindPDF }

// Open extracts the page images with pdfcpu.
func (p *PDF) Open(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.img != nil {
		return nil
	}

	count, err := api.PageCountFile(p.path)
	if err != nil {
		return p.fail("open", fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
	if p.page > count {
		return p.fail("open", fmt.Errorf("%w: page %d out of range (document has %d)", ErrUnavailable, p.page, count))
	}

	images, err := ExtractPageImages(p.path, p.page)
	if err != nil {
		return p.fail("extract", fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
	img := largest(images)
	if img == nil {
		return p.fail("extract", fmt.Errorf("%w: page %d has no images", ErrUnavailable, p.page))
	}
	p.img = img
	return nil
}

func (p *PDF) fail(op string, err error) error {
	return &SourceError{Kind: KindPDF, Operation: op, Err: err}
}

func (p *PDF) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.img == nil {
		return nil, p.fail("capture", errors.New("source not open"))
	}
	return p.img, nil
}

func (p *PDF) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.img = nil
	return nil
}

// ExtractPageImages extracts the images embedded in one page.
func ExtractPageImages(filename string, page int) ([]image.Image, error) {
	tempDir, err := os.MkdirTemp("", "fieldscan-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	if err := api.ExtractImagesFile(filename, tempDir, []string{strconv.Itoa(page)}, nil); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	byPage, err := collectExtractedImages(tempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load extracted images: %w", err)
	}
	return byPage[page], nil
}

// collectExtractedImages groups extracted files by page. pdfcpu names them
// <name>_<page>_<id>.<ext> or page_<page>_image_<id>.<ext> depending on
// version.
func collectExtractedImages(dir string) (map[int][]image.Image, error) {
	result := make(map[int][]image.Image)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		page, ok := pageFromFilename(info.Name())
		if !ok {
			return nil
		}
		img, err := imaging.Open(path)
		if err != nil {
			// Unsupported encodings are skipped.
			return nil
		}
		result[page] = append(result[page], img)
		return nil
	})
	return result, err
}

func pageFromFilename(name string) (int, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "_")
	if len(parts) >= 2 && parts[0] == "page" {
		n, err := strconv.Atoi(parts[1])
		return n, err == nil
	}
	if len(parts) >= 3 {
		n, err := strconv.Atoi(parts[len(parts)-2])
		return n, err == nil
	}
	return 0, false
}

func largest(images []image.Image) image.Image {
	var best image.Image
	bestArea := 0
	for _, img := range images {
		if a := img.Bounds().Dx() * img.Bounds().Dy(); a > bestArea {
			best, bestArea = img, a
		}
	}
	return best
}
