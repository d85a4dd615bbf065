package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HeaderName carries the client supplied key.
const HeaderName = "Idempotency-Key"

const maxKeyLength = 128

// ScopeFunc namespaces a key, typically by the authenticated user.
type ScopeFunc func(*gin.Context) string

type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (writer *capturingWriter) Write(data []byte) (int, error) {
	writer.body.Write(data)
	return writer.ResponseWriter.Write(data)
}

func (writer *capturingWriter) WriteString(data string) (int, error) {
	writer.body.WriteString(data)
	return writer.ResponseWriter.WriteString(data)
}

// Middleware replays the stored response for a repeated Idempotency-Key.
// Requests without the header pass through. Only responses below 500 are stored.
func Middleware(store *Store, scope ScopeFunc, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx *gin.Context) {
		key := strings.TrimSpace(ctx.GetHeader(HeaderName))
		if store == nil || key == "" {
			ctx.Next()
			return
		}
		if len(key) > maxKeyLength {
			abort(ctx, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key is too long")
			return
		}
		body, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			abort(ctx, http.StatusBadRequest, "invalid_request", "unable to read request body")
			return
		}
		ctx.Request.Body = io.NopCloser(bytes.NewReader(body))

		storageKey := ctx.Request.Method + " " + ctx.Request.URL.Path + " " + key
		if scope != nil {
			storageKey = scope(ctx) + " " + storageKey
		}
		requestHash := hashRequest(body)

		record, found, err := store.Lookup(storageKey, requestHash)
		switch {
		case errors.Is(err, ErrKeyReused):
			abort(ctx, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key was used with a different request")
			return
		case err != nil:
			logger.Warn("idempotency lookup failed", zap.Error(err))
		case found:
			replay(ctx, record)
			return
		}

		writer := &capturingWriter{ResponseWriter: ctx.Writer}
		ctx.Writer = writer
		ctx.Next()

		status := writer.Status()
		if status >= http.StatusInternalServerError {
			return
		}
		_, _, saveErr := store.Save(storageKey, Record{
			RequestHash: requestHash,
			StatusCode:  status,
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
		})
		if saveErr != nil {
			logger.Warn("idempotency save failed", zap.Error(saveErr))
		}
	}
}

func replay(ctx *gin.Context, record Record) {
	ctx.Header("Idempotent-Replayed", "true")
	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	ctx.Data(record.StatusCode, contentType, record.Body)
	ctx.Abort()
}

func abort(ctx *gin.Context, status int, code string, message string) {
	ctx.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

func hashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
