package handler

import (
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/frlabs/sitegate/internal/middleware"
	"github.com/frlabs/sitegate/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
)

// readJSONBody runs the checks shared by both POST endpoints, in order:
// content type, body size (in characters), JSON syntax.
func readJSONBody(c *gin.Context, maxChars int) ([]byte, error) {
	contentType := strings.ToLower(c.GetHeader("Content-Type"))
	if !strings.Contains(contentType, "application/json") {
		return nil, apperrors.New(apperrors.ErrUnsupportedMedia, "Content-Type deve essere application/json", nil)
	}

	// Each character is at most 4 bytes in UTF-8.
	limit := int64(maxChars)*utf8.UTFMax + 1
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, limit))
	if err != nil {
		return nil, apperrors.New(apperrors.ErrPayloadSize, "Payload vuoto o troppo grande", err)
	}
	if len(raw) == 0 || int64(len(raw)) >= limit || utf8.RuneCount(raw) > maxChars {
		return nil, apperrors.New(apperrors.ErrPayloadSize, "Payload vuoto o troppo grande", nil)
	}

	if !json.Valid(raw) {
		return nil, apperrors.New(apperrors.ErrMalformedJSON, "JSON malformato", nil)
	}
	return raw, nil
}

func writeJSON(c *gin.Context, status int, body any) {
	c.Header(middleware.HeaderCacheControl, middleware.NoStore)
	c.JSON(status, body)
}

func writeNoContent(c *gin.Context) {
	c.Header(middleware.HeaderCacheControl, middleware.NoStore)
	c.Status(http.StatusNoContent)
}
