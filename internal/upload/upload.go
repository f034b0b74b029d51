// Package upload parses multipart image uploads entirely in memory.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
)

var (
	ErrInvalidExtension = errors.New("invalid file extension")
	ErrInvalidMIMEType  = errors.New("invalid MIME type")
	ErrFileTooLarge     = errors.New("file too large")
	ErrTooManyFiles     = errors.New("too many files")
	ErrNoFiles          = errors.New("no files uploaded")
	ErrMalformed        = errors.New("malformed multipart request")
)

var (
	allowedExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}
	allowedMIMETypes  = []string{"image/jpeg", "image/png", "image/webp"}
)

// multipartOverhead is headroom for boundaries, part headers and plain form
// fields on top of the file payload.
const multipartOverhead = 1 << 20

// Limits bounds a single upload request.
type Limits struct {
	MaxFileSize int64
	MaxFiles    int
}

var (
	ProductImages   = Limits{MaxFileSize: 5 << 20, MaxFiles: 10}
	ChatAttachments = Limits{MaxFileSize: 10 << 20, MaxFiles: 7}
	ProductFormData = Limits{MaxFileSize: 5 << 20, MaxFiles: 10}
)

func (l Limits) maxRequestBytes() int64 {
	return l.MaxFileSize*int64(l.MaxFiles) + multipartOverhead
}

// File is an accepted upload held in memory.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
}

// Form is a parsed multipart request: accepted files plus plain fields.
type Form struct {
	Files  []File
	Fields map[string]string
}

// Check applies the image filter to a declared file name and MIME type.
func Check(name, contentType string) error {
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(allowedExtensions, ext) {
		return fmt.Errorf("%w: %q", ErrInvalidExtension, ext)
	}
	if !slices.Contains(allowedMIMETypes, contentType) {
		return fmt.Errorf("%w: %q", ErrInvalidMIMEType, contentType)
	}
	return nil
}

// Parse reads the files posted under field, enforcing lim and the image
// filter. The whole request is rejected on the first violation.
func Parse(w http.ResponseWriter, r *http.Request, field string, lim Limits) (*Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, lim.maxRequestBytes())

	// Everything fits the memory budget, so nothing spills to temp files.
	if err := r.ParseMultipartForm(lim.maxRequestBytes()); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, ErrNoFiles
	}
	if len(headers) > lim.MaxFiles {
		return nil, fmt.Errorf("%w: at most %d allowed", ErrTooManyFiles, lim.MaxFiles)
	}

	form := &Form{
		Files:  make([]File, 0, len(headers)),
		Fields: make(map[string]string, len(r.MultipartForm.Value)),
	}
	for name, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			form.Fields[name] = values[0]
		}
	}

	for _, fh := range headers {
		f, err := readFile(fh, lim)
		if err != nil {
			return nil, err
		}
		form.Files = append(form.Files, f)
	}
	return form, nil
}

func readFile(fh *multipart.FileHeader, lim Limits) (File, error) {
	if fh.Size > lim.MaxFileSize {
		return File{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, fh.Filename, lim.MaxFileSize)
	}
	contentType := fh.Header.Get("Content-Type")
	if err := Check(fh.Filename, contentType); err != nil {
		return File{}, err
	}

	src, err := fh.Open()
	if err != nil {
		return File{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, lim.MaxFileSize+1))
	if err != nil {
		return File{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	if int64(len(data)) > lim.MaxFileSize {
		return File{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, fh.Filename, lim.MaxFileSize)
	}

	return File{
		Name:        filepath.Base(fh.Filename),
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

// IsClientError reports whether err was caused by the request rather than
// the server.
func IsClientError(err error) bool {
	for _, target := range []error{ErrInvalidExtension, ErrInvalidMIMEType, ErrFileTooLarge, ErrTooManyFiles, ErrNoFiles, ErrMalformed} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
