package handlers

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"galleria/internal/logging"
	"galleria/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

type archiveFormat int

const (
	formatZip archiveFormat = iota + 1
	formatTar
	formatTarGz
)

var (
	errUnsupportedArchive = errors.New("unsupported archive format, use .zip, .tar, .tar.gz or .tgz")
	errNoImagesInArchive  = errors.New("archive contains no images")
)

// archiveSource is what multipart.File provides.
type archiveSource interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

type archiveImportResponse struct {
	Created []pictureResponse `json:"created"`
	Failed  []archiveFailure  `json:"failed"`
}

type archiveFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

func detectArchiveFormat(filename string) (archiveFormat, bool) {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return formatZip, true
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return formatTarGz, true
	case strings.HasSuffix(name, ".tar"):
		return formatTar, true
	}
	return 0, false
}

// archiveImageName returns the file name an archive entry is imported under,
// or false for entries that are not images. Folders inside the archive are
// flattened; hidden files and macOS resource forks are skipped.
func archiveImageName(entry string) (string, bool) {
	entry = strings.ReplaceAll(entry, "\\", "/")
	for _, part := range strings.Split(entry, "/") {
		if strings.HasPrefix(part, ".") || part == "__MACOSX" {
			return "", false
		}
	}
	name := path.Base(entry)
	if !storage.IsImageFilename(name) {
		return "", false
	}
	return name, true
}

// walkArchive calls fn for every regular file. r is only valid during the
// call.
func walkArchive(src archiveSource, size int64, format archiveFormat, fn func(name string, size int64, r io.Reader) error) error {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return err
	}

	switch format {
	case formatZip:
		zr, err := zip.NewReader(src, size)
		if err != nil {
			return fmt.Errorf("read zip: %w", err)
		}
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", f.Name, err)
			}
			err = fn(f.Name, int64(f.UncompressedSize64), rc)
			rc.Close()
			if err != nil {
				return err
			}
		}
		return nil

	case formatTar, formatTarGz:
		var r io.Reader = src
		if format == formatTarGz {
			gz, err := gzip.NewReader(src)
			if err != nil {
				return fmt.Errorf("read gzip: %w", err)
			}
			defer gz.Close()
			r = gz
		}
		tr := tar.NewReader(r)
		for {
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read tar: %w", err)
			}
			if hdr.Typeflag != tar.TypeReg {
				continue
			}
			if err := fn(hdr.Name, hdr.Size, tr); err != nil {
				return err
			}
		}
	}
	return errUnsupportedArchive
}

// ImportArchive adds every image in an uploaded zip or tar archive to the
// album. The archive is checked in full before anything is stored: declared
// image bytes are capped and an archive without images is rejected. Images
// that then fail individually are reported and do not stop the rest.
func (h *PictureHandler) ImportArchive(c *gin.Context) {
	albumID, ok := albumParam(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("archive")
	if err != nil {
		writeError(c, http.StatusBadRequest, fmt.Errorf("archive file required"))
		return
	}
	if fileHeader.Size > h.maxArchiveBytes {
		writeError(c, http.StatusRequestEntityTooLarge, fmt.Errorf("archive exceeds %d bytes", h.maxArchiveBytes))
		return
	}
	format, ok := detectArchiveFormat(fileHeader.Filename)
	if !ok {
		writeError(c, http.StatusBadRequest, errUnsupportedArchive)
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, fmt.Errorf("could not read upload: %w", err))
		return
	}
	defer src.Close()

	var images int
	var total int64
	err = walkArchive(src, fileHeader.Size, format, func(name string, size int64, _ io.Reader) error {
		if _, ok := archiveImageName(name); !ok {
			return nil
		}
		images++
		total += size
		if total > h.maxArchiveBytes {
			return &uploadError{http.StatusRequestEntityTooLarge, fmt.Errorf("archive images exceed %d bytes", h.maxArchiveBytes)}
		}
		return nil
	})
	if err != nil {
		var ue *uploadError
		if errors.As(err, &ue) {
			writeUploadError(c, err)
			return
		}
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if images == 0 {
		writeError(c, http.StatusBadRequest, errNoImagesInArchive)
		return
	}

	ctx := c.Request.Context()
	resp := archiveImportResponse{Created: []pictureResponse{}, Failed: []archiveFailure{}}
	err = walkArchive(src, fileHeader.Size, format, func(entry string, _ int64, r io.Reader) error {
		name, ok := archiveImageName(entry)
		if !ok {
			return nil
		}
		created, err := h.ingest(ctx, albumID, "", name, r)
		if err != nil {
			msg := "internal error"
			var ue *uploadError
			if errors.As(err, &ue) {
				msg = ue.err.Error()
			}
			resp.Failed = append(resp.Failed, archiveFailure{Name: entry, Error: msg})
			return nil
		}
		resp.Created = append(resp.Created, h.toResponse(c, created))
		return nil
	})
	if err != nil {
		logging.FromContext(ctx).Error("import archive", "album_id", albumID, "error", err)
		writeError(c, http.StatusBadRequest, err)
		return
	}

	logging.FromContext(ctx).Info("archive imported", "album_id", albumID,
		"created", len(resp.Created), "failed", len(resp.Failed))

	status := http.StatusCreated
	if len(resp.Created) == 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, resp)
}
