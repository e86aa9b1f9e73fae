package handlers

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"testing"

	"galleria/internal/testutil/ffprobestub"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

type archiveEntry struct {
	name string
	body string
}

func buildZip(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("zip create %s: %v", e.name, err)
		}
		if _, err := w.Write([]byte(e.body)); err != nil {
			t.Fatalf("zip write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func buildTar(t *testing.T, entries []archiveEntry, compress bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	var out io.Writer = &buf
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(&buf)
		out = gz
	}
	tw := tar.NewWriter(out)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header %s: %v", e.name, err)
		}
		if _, err := tw.Write([]byte(e.body)); err != nil {
			t.Fatalf("tar write %s: %v", e.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			t.Fatalf("gzip close: %v", err)
		}
	}
	return buf.Bytes()
}

func decodeArchiveImport(t *testing.T, body string) archiveImportResponse {
	t.Helper()
	var resp archiveImportResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("invalid response json: %v body=%s", err, body)
	}
	return resp
}

func TestDetectArchiveFormat(t *testing.T) {
	tests := []struct {
		name   string
		want   archiveFormat
		wantOK bool
	}{
		{"photos.zip", formatZip, true},
		{"PHOTOS.ZIP", formatZip, true},
		{"photos.tar", formatTar, true},
		{"photos.tar.gz", formatTarGz, true},
		{"photos.tgz", formatTarGz, true},
		{"photos.rar", 0, false},
		{"photos.gz", 0, false},
		{"photos", 0, false},
	}
	for _, tc := range tests {
		got, ok := detectArchiveFormat(tc.name)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("detectArchiveFormat(%q) = %v, %v; want %v, %v", tc.name, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestArchiveImageName(t *testing.T) {
	tests := []struct {
		entry  string
		want   string
		wantOK bool
	}{
		{"a.jpg", "a.jpg", true},
		{"trip/day1/b.PNG", "b.PNG", true},
		{`trip\c.webp`, "c.webp", true},
		{"notes.txt", "", false},
		{".hidden.jpg", "", false},
		{"trip/.thumbs/d.jpg", "", false},
		{"__MACOSX/trip/._a.jpg", "", false},
		{"trip/", "", false},
	}
	for _, tc := range tests {
		got, ok := archiveImageName(tc.entry)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("archiveImageName(%q) = %q, %v; want %q, %v", tc.entry, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestImportArchiveFormats(t *testing.T) {
	gin.SetMode(gin.TestMode)

	bin := ffprobestub.Build(t)
	entries := []archiveEntry{
		{"one.jpg", "dims:10x10"},
		{"trip/day1/two.png", "dims:20x30"},
		{"broken.jpg", "fail"},
		{"readme.txt", "dims:1x1"},
		{"__MACOSX/trip/._two.png", "dims:1x1"},
		{".DS_Store", "dims:1x1"},
	}

	tests := []struct {
		name     string
		fileName string
		data     []byte
	}{
		{"zip", "photos.zip", buildZip(t, entries)},
		{"tar", "photos.tar", buildTar(t, entries, false)},
		{"tgz", "photos.tgz", buildTar(t, entries, true)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			bucket := &fakeBucket{}
			handler := newTestPictureHandler(t, store, bucket, newTestSigner(), bin)

			code, body := performMultipartRequest(t, handler.ImportArchive, http.MethodPost, "/api/albums/:album/archives",
				"/api/albums/summer/archives", nil, "archive", tc.fileName, tc.data)
			if code != http.StatusCreated {
				t.Fatalf("expected 201, got %d body=%s", code, body)
			}

			resp := decodeArchiveImport(t, body)
			if len(resp.Created) != 2 {
				t.Fatalf("expected 2 created pictures, got %+v", resp.Created)
			}
			titles := []string{resp.Created[0].Title, resp.Created[1].Title}
			sort.Strings(titles)
			if titles[0] != "one.jpg" || titles[1] != "two.png" {
				t.Fatalf("unexpected titles %v", titles)
			}
			for _, p := range resp.Created {
				if p.AlbumID != "summer" || p.SignedURL == nil {
					t.Fatalf("unexpected picture %+v", p)
				}
			}
			if len(resp.Failed) != 1 || resp.Failed[0].Name != "broken.jpg" {
				t.Fatalf("unexpected failures %+v", resp.Failed)
			}
			if len(bucket.puts) != 2 || len(store.pictures) != 2 {
				t.Fatalf("expected 2 stored objects, got %d puts and %d rows", len(bucket.puts), len(store.pictures))
			}
		})
	}
}

func TestImportArchiveRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)

	bin := ffprobestub.Build(t)
	// Compresses to well under a kilobyte.
	padded := "dims:1x1" + strings.Repeat(" ", 32<<10)

	tests := []struct {
		name       string
		fileName   string
		data       []byte
		maxArchive int64
		want       int
	}{
		{
			name:     "no images",
			fileName: "docs.zip",
			data:     buildZip(t, []archiveEntry{{"readme.txt", "hello"}, {"__MACOSX/a.jpg", "dims:1x1"}}),
			want:     http.StatusBadRequest,
		},
		{
			name:     "unsupported extension",
			fileName: "photos.rar",
			data:     []byte("Rar!"),
			want:     http.StatusBadRequest,
		},
		{
			name:     "corrupt zip",
			fileName: "photos.zip",
			data:     []byte("not a zip file"),
			want:     http.StatusBadRequest,
		},
		{
			name:       "upload over the cap",
			fileName:   "photos.tar",
			data:       buildTar(t, []archiveEntry{{"a.jpg", "dims:1x1"}}, false),
			maxArchive: 512,
			want:       http.StatusRequestEntityTooLarge,
		},
		{
			name:       "expanded images over the cap",
			fileName:   "photos.tgz",
			data:       buildTar(t, []archiveEntry{{"a.jpg", padded}, {"b.jpg", padded}}, true),
			maxArchive: 8 << 10,
			want:       http.StatusRequestEntityTooLarge,
		},
		{
			name:     "every image fails",
			fileName: "photos.zip",
			data:     buildZip(t, []archiveEntry{{"a.jpg", "fail"}, {"b.jpg", "fail"}}),
			want:     http.StatusUnprocessableEntity,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			bucket := &fakeBucket{}
			cfg := PictureHandlerConfig{FFProbeBin: bin, MaxArchiveBytes: tc.maxArchive}
			handler, err := NewPictureHandler(store, bucket, newTestSigner(), cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			code, body := performMultipartRequest(t, handler.ImportArchive, http.MethodPost, "/api/albums/:album/archives",
				"/api/albums/summer/archives", nil, "archive", tc.fileName, tc.data)
			if code != tc.want {
				t.Fatalf("expected %d, got %d body=%s", tc.want, code, body)
			}
			if len(bucket.puts) != 0 || len(store.pictures) != 0 {
				t.Fatalf("nothing should be stored, got %d puts", len(bucket.puts))
			}
		})
	}
}

func TestImportArchiveRequiresFile(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := newTestPictureHandler(t, newFakeStore(), &fakeBucket{}, newTestSigner(), "")

	code, body := performMultipartRequest(t, handler.ImportArchive, http.MethodPost, "/api/albums/:album/archives",
		"/api/albums/summer/archives", nil, "", "", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", code, body)
	}

	code, body = performMultipartRequest(t, handler.ImportArchive, http.MethodPost, "/api/albums/:album/archives",
		"/api/albums/my%20album/archives", nil, "archive", "a.zip", []byte("x"))
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid album, got %d body=%s", code, body)
	}
}
