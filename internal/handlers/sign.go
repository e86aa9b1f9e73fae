package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"galleria/internal/logging"
	"galleria/internal/security"

	"github.com/gin-gonic/gin"
)

// URLSigner is the part of security.Signer the handlers need.
type URLSigner interface {
	Sign(resourceID string, ttl time.Duration) (security.SignedReference, error)
	SignDefault(resourceID string) (security.SignedReference, error)
}

type SignHandler struct {
	signer URLSigner
}

func NewSignHandler(signer URLSigner) *SignHandler {
	return &SignHandler{signer: signer}
}

// Generate mints a URL for the resource in the wildcard path. An optional
// ttl query parameter overrides the default lifetime, in seconds.
func (h *SignHandler) Generate(c *gin.Context) {
	resourceID := strings.TrimPrefix(c.Param("resource"), "/")
	if resourceID == "" {
		writeError(c, http.StatusBadRequest, security.ErrEmptyResourceID)
		return
	}

	ttl, ok := ttlQuery(c)
	if !ok {
		return
	}

	var (
		ref security.SignedReference
		err error
	)
	if ttl > 0 {
		ref, err = h.signer.Sign(resourceID, ttl)
	} else {
		ref, err = h.signer.SignDefault(resourceID)
	}

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, security.ErrEmptyResourceID) || errors.Is(err, security.ErrInvalidTTL) {
			status = http.StatusBadRequest
		} else {
			logging.FromContext(c.Request.Context()).Error("sign url", "error", err)
		}
		writeError(c, status, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, ref)
}

// ttlQuery reads the optional ttl (or expires_in) query parameter in
// seconds. It returns 0 when absent and writes a 400 and reports false when
// malformed.
func ttlQuery(c *gin.Context) (time.Duration, bool) {
	v := c.Query("ttl")
	if v == "" {
		v = c.Query("expires_in")
	}
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err == nil {
		var ttl time.Duration
		if ttl, err = security.TTLFromSeconds(n); err == nil {
			return ttl, true
		}
	}
	writeError(c, http.StatusBadRequest, fmt.Errorf("%w: %q", security.ErrInvalidTTL, v))
	return 0, false
}
