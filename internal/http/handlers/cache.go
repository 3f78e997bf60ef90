package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vitruvius-bim/vitruvius-backend/internal/cache"
	"github.com/vitruvius-bim/vitruvius-backend/internal/contenthash"
	"github.com/vitruvius-bim/vitruvius-backend/internal/http/response"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

// ResultCache is the part of the result cache the ops surface exposes.
type ResultCache interface {
	Stats(ctx context.Context) (cache.Stats, error)
	Invalidate(ctx context.Context, contentHash string) (int, error)
}

type CacheHandler struct {
	log   *logger.Logger
	cache ResultCache
}

func NewCacheHandler(baseLog *logger.Logger, c ResultCache) *CacheHandler {
	return &CacheHandler{log: baseLog.With("handler", "CacheHandler"), cache: c}
}

// GET /v1/cache/stats
func (h *CacheHandler) Stats(c *gin.Context) {
	if h.cache == nil {
		response.RespondError(c, http.StatusServiceUnavailable, string(apperr.CacheUnavailable), fmt.Errorf("cache disabled"))
		return
	}
	stats, err := h.cache.Stats(c.Request.Context())
	if err != nil {
		h.log.Warn("cache stats failed", "error", err)
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, stats)
}

// DELETE /v1/cache/:hash
func (h *CacheHandler) Invalidate(c *gin.Context) {
	if h.cache == nil {
		response.RespondError(c, http.StatusServiceUnavailable, string(apperr.CacheUnavailable), fmt.Errorf("cache disabled"))
		return
	}
	hash := strings.ToLower(strings.TrimSpace(c.Param("hash")))
	if !contenthash.Valid(hash) {
		response.RespondError(c, http.StatusBadRequest, string(apperr.InvalidArgument), fmt.Errorf("hash must be 16 hex digits"))
		return
	}
	n, err := h.cache.Invalidate(c.Request.Context(), hash)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"hash": hash, "deleted": n})
}
