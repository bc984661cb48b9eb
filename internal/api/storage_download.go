package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/artifacts/internal/storage"
)

// signedObjectReader is the local storage subset needed to serve signed URLs
type signedObjectReader interface {
	storage.Storage
	ValidateSignedToken(token string) (bucket, key string, err error)
}

// downloadHandler serves bundle documents behind local signed URLs
type downloadHandler struct {
	store signedObjectReader
}

func newDownloadHandler(store signedObjectReader) *downloadHandler {
	return &downloadHandler{store: store}
}

// Serve handles GET /api/v1/storage/object?token=...
// This is a PUBLIC endpoint - authorization is the signed token itself
func (h *downloadHandler) Serve(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "token is required",
		})
	}

	bucket, key, err := h.store.ValidateSignedToken(token)
	if err != nil {
		log.Warn().Err(err).Str("ip", c.IP()).Msg("Invalid signed URL token")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid or expired token",
		})
	}

	reader, object, err := h.store.Download(c.UserContext(), bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "file not found",
			})
		}
		log.Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("Failed to download file via signed URL")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to download file",
		})
	}

	contentType := object.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = fiber.MIMETextHTMLCharsetUTF8
	}

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderLastModified, object.LastModified.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"))
	c.Set(fiber.HeaderCacheControl, "private, max-age=300")

	// fasthttp closes the reader once the body is sent
	return c.SendStream(reader, int(object.Size))
}
