package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// MediaHandler serves stored objects from a local directory. In production
// the reverse proxy serves /media directly; this covers single-host setups.
// Signature checks happen in middleware before Serve runs.
type MediaHandler struct {
	root string
}

func NewMediaHandler(root string) *MediaHandler {
	return &MediaHandler{root: root}
}

func (h *MediaHandler) Serve(c *gin.Context) {
	trimmed := strings.TrimPrefix(c.Param("path"), "/")

	if trimmed == "" || strings.Contains(trimmed, "..") || strings.Contains(trimmed, "\\") {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	fullPath := filepath.Join(h.root, filepath.FromSlash(trimmed))
	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.Header("Cache-Control", "private")
	c.File(fullPath)
}
