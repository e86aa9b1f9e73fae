package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"galleria/internal/logging"
	"galleria/internal/probe"
	"galleria/internal/security"
	"galleria/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PictureHandlerConfig parametrises upload handling.
type PictureHandlerConfig struct {
	FFProbeBin      string
	MaxUploadBytes  int64
	MaxArchiveBytes int64
}

type PictureStore interface {
	CreatePicture(ctx context.Context, p storage.Picture) (storage.Picture, error)
	GetPicture(ctx context.Context, id string) (storage.Picture, error)
	ListPictures(ctx context.Context, albumID string) ([]storage.Picture, error)
	SoftDeletePicture(ctx context.Context, id string) error
	RestorePicture(ctx context.Context, id string) (storage.Picture, error)
}

type PictureHandler struct {
	store           PictureStore
	bucket          storage.Bucket
	signer          URLSigner
	ffprobeBin      string
	maxUploadBytes  int64
	maxArchiveBytes int64
}

type uploadPictureForm struct {
	Title string `form:"title"`
}

// pictureResponse carries a signed_url minted for this response only.
type pictureResponse struct {
	storage.Picture
	SignedURL *string `json:"signed_url"`
}

var (
	errInvalidAlbum    = errors.New("album id may only contain letters, digits, '-', '_', '.' and '~'")
	errPictureNotFound = errors.New("picture not found")
)

// uploadError carries the HTTP status an ingest failure maps to.
type uploadError struct {
	status int
	err    error
}

func (e *uploadError) Error() string { return e.err.Error() }
func (e *uploadError) Unwrap() error { return e.err }

var probeImage = probe.ProbeImage

func NewPictureHandler(store PictureStore, bucket storage.Bucket, signer URLSigner, cfg PictureHandlerConfig) (*PictureHandler, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if bucket == nil {
		return nil, errors.New("bucket is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}

	if cfg.FFProbeBin == "" {
		cfg.FFProbeBin = "ffprobe"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.MaxArchiveBytes <= 0 {
		cfg.MaxArchiveBytes = 100 << 20
	}

	return &PictureHandler{
		store:           store,
		bucket:          bucket,
		signer:          signer,
		ffprobeBin:      cfg.FFProbeBin,
		maxUploadBytes:  cfg.MaxUploadBytes,
		maxArchiveBytes: cfg.MaxArchiveBytes,
	}, nil
}

func (h *PictureHandler) Create(c *gin.Context) {
	albumID, ok := albumParam(c)
	if !ok {
		return
	}

	var form uploadPictureForm
	if err := c.ShouldBind(&form); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeError(c, http.StatusBadRequest, fmt.Errorf("image file required"))
			return
		}
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		writeError(c, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds %d bytes", h.maxUploadBytes))
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, fmt.Errorf("could not read upload: %w", err))
		return
	}
	defer src.Close()

	created, err := h.ingest(c.Request.Context(), albumID, form.Title, fileHeader.Filename, src)
	if err != nil {
		writeUploadError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(c, created))
}

// ingest spools one image to disk, probes it, streams it to the bucket and
// records it. The object is removed again if the row cannot be written.
func (h *PictureHandler) ingest(ctx context.Context, albumID, title, filename string, r io.Reader) (storage.Picture, error) {
	log := logging.FromContext(ctx)

	spooled, err := spoolUpload(r, h.maxUploadBytes)
	if err != nil {
		return storage.Picture{}, err
	}
	defer spooled.Close()

	dims, err := probeImage(ctx, h.ffprobeBin, spooled.Name())
	if err != nil {
		return storage.Picture{}, &uploadError{http.StatusBadRequest, fmt.Errorf("not a readable image: %w", err)}
	}

	if _, err := spooled.Seek(0, io.SeekStart); err != nil {
		return storage.Picture{}, err
	}

	key := storage.ObjectKey(albumID, filename)
	contentType := storage.ContentTypeForKey(key)

	if err := h.bucket.Put(ctx, key, spooled, spooled.size, contentType); err != nil {
		log.Error("upload picture", "key", key, "error", err)
		return storage.Picture{}, &uploadError{http.StatusBadGateway, fmt.Errorf("object store unavailable")}
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = path.Base(filename)
	}

	width, height := dims.Width, dims.Height
	created, err := h.store.CreatePicture(ctx, storage.Picture{
		ID:       uuid.NewString(),
		AlbumID:  albumID,
		Title:    title,
		FileID:   key,
		MimeType: contentType,
		FileSize: spooled.size,
		Width:    &width,
		Height:   &height,
	})
	if err != nil {
		if delErr := h.bucket.Delete(ctx, key); delErr != nil {
			log.Warn("orphaned object after failed insert", "key", key, "error", delErr)
		}
		log.Error("insert picture", "key", key, "error", err)
		return storage.Picture{}, err
	}

	log.Info("picture uploaded", "picture_id", created.ID, "album_id", albumID, "bytes", created.FileSize)
	return created, nil
}

func (h *PictureHandler) Get(c *gin.Context) {
	id, ok := pictureIDParam(c)
	if !ok {
		return
	}
	p, err := h.store.GetPicture(c.Request.Context(), id)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(c, p))
}

func (h *PictureHandler) List(c *gin.Context) {
	albumID, ok := albumParam(c)
	if !ok {
		return
	}

	pictures, err := h.store.ListPictures(c.Request.Context(), albumID)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	resp := make([]pictureResponse, 0, len(pictures))
	for _, p := range pictures {
		resp = append(resp, h.toResponse(c, p))
	}
	c.JSON(http.StatusOK, resp)
}

// SignedURL re-mints a link for a live picture, optionally with a ttl in
// seconds. Deleted pictures are not found.
func (h *PictureHandler) SignedURL(c *gin.Context) {
	id, ok := pictureIDParam(c)
	if !ok {
		return
	}
	ttl, ok := ttlQuery(c)
	if !ok {
		return
	}

	p, err := h.store.GetPicture(c.Request.Context(), id)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if p.FileID == "" {
		writeError(c, http.StatusNotFound, fmt.Errorf("picture has no stored file"))
		return
	}

	var ref security.SignedReference
	if ttl > 0 {
		ref, err = h.signer.Sign(p.FileID, ttl)
	} else {
		ref, err = h.signer.SignDefault(p.FileID)
	}
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("sign picture url", "picture_id", p.ID, "error", err)
		writeError(c, http.StatusInternalServerError, fmt.Errorf("could not sign url"))
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, ref)
}

// Delete soft-deletes; the object stays in the bucket and links already
// handed out keep working until they expire.
func (h *PictureHandler) Delete(c *gin.Context) {
	id, ok := pictureIDParam(c)
	if !ok {
		return
	}
	if err := h.store.SoftDeletePicture(c.Request.Context(), id); err != nil {
		writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PictureHandler) Restore(c *gin.Context) {
	id, ok := pictureIDParam(c)
	if !ok {
		return
	}
	p, err := h.store.RestorePicture(c.Request.Context(), id)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(c, p))
}

// toResponse signs the picture's object key. A signing failure degrades to
// a null signed_url instead of failing the whole response.
func (h *PictureHandler) toResponse(c *gin.Context, p storage.Picture) pictureResponse {
	resp := pictureResponse{Picture: p}
	if p.FileID == "" {
		return resp
	}
	ref, err := h.signer.SignDefault(p.FileID)
	if err != nil {
		logging.FromContext(c.Request.Context()).Warn("sign picture url", "picture_id", p.ID, "error", err)
		return resp
	}
	resp.SignedURL = &ref.URL
	return resp
}

// pictureIDParam accepts only UUIDs; anything else cannot name a row, so it
// is answered with 404 before reaching the database.
func pictureIDParam(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusNotFound, errPictureNotFound)
		return "", false
	}
	return id.String(), true
}

func albumParam(c *gin.Context) (string, bool) {
	albumID := c.Param("album")
	if !storage.ValidAlbumID(albumID) {
		writeError(c, http.StatusBadRequest, errInvalidAlbum)
		return "", false
	}
	return albumID, true
}

// writeStoreError maps ErrNotFound to 404. Other store errors are logged and
// answered without the driver message.
func writeStoreError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(c, http.StatusNotFound, errPictureNotFound)
		return
	}
	logging.FromContext(c.Request.Context()).Error("picture store", "error", err)
	writeError(c, http.StatusInternalServerError, errors.New("internal error"))
}

func writeUploadError(c *gin.Context, err error) {
	var ue *uploadError
	if errors.As(err, &ue) {
		writeError(c, ue.status, ue.err)
		return
	}
	writeError(c, http.StatusInternalServerError, errors.New("internal error"))
}

// spooledFile is an upload copied to a temp file. ffprobe needs a path, and
// the bucket reads it back as a stream. Close removes it.
type spooledFile struct {
	*os.File
	size int64
}

func (f *spooledFile) Close() error {
	err := f.File.Close()
	_ = os.Remove(f.File.Name())
	return err
}

// spoolUpload copies r to a temp file, reading at most limit+1 bytes so an
// oversized body fails with 413 without being buffered in full.
func spoolUpload(r io.Reader, limit int64) (*spooledFile, error) {
	tmp, err := os.CreateTemp("", "galleria-upload-*")
	if err != nil {
		return nil, fmt.Errorf("could not create temp file: %w", err)
	}
	f := &spooledFile{File: tmp}

	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if err != nil {
		f.Close()
		return nil, &uploadError{http.StatusBadRequest, fmt.Errorf("could not read upload: %w", err)}
	}
	if n > limit {
		f.Close()
		return nil, &uploadError{http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds %d bytes", limit)}
	}
	f.size = n
	return f, nil
}
