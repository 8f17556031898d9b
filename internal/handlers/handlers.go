package handlers

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zelara-ai/zelara-plant/internal/auth"
	"github.com/zelara-ai/zelara-plant/internal/repository"
	"github.com/zelara-ai/zelara-plant/internal/usecase"
)

// MaxUploadSize caps the accepted image payload at 10 MiB.
const MaxUploadSize = 10 << 20

type identifyBase64Request struct {
	ImageBase64 string `json:"image_base64"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.IdentificationUseCase, keyMiddleware gin.HandlerFunc) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Welcome to the Zelara Plant Worker API"})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/identify", keyMiddleware, func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Image file is required."})
			return
		}

		contentType := file.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "image/") {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid file format. Please upload an image."})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Unable to open uploaded file."})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to read uploaded file."})
			return
		}
		if len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Empty file."})
			return
		}
		if len(data) > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Uploaded file is too large."})
			return
		}

		submit(c, uc, data)
	})

	router.POST("/identify_base64", keyMiddleware, func(c *gin.Context) {
		var req identifyBase64Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body."})
			return
		}

		data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil || len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid base64-encoded image."})
			return
		}
		if len(data) > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Uploaded file is too large."})
			return
		}

		submit(c, uc, data)
	})

	router.GET("/identifications", func(c *gin.Context) {
		records, err := uc.ListIdentifications(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to list identifications."})
			return
		}
		if records == nil {
			records = []repository.IdentificationRecord{}
		}
		c.JSON(http.StatusOK, records)
	})

	router.GET("/identifications/:id", func(c *gin.Context) {
		record, err := uc.GetIdentification(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Identification not found."})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to load identification."})
			return
		}
		c.JSON(http.StatusOK, record)
	})
}

// submit creates the Processing record, schedules the background work, and
// answers immediately with the record id.
func submit(c *gin.Context, uc *usecase.IdentificationUseCase, image []byte) {
	apiKey, _ := auth.APIKey(c.Request.Context())

	id, err := uc.Submit(c.Request.Context(), image, apiKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to create identification record."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":           "Plant identification is in progress.",
		"identification_id": id,
	})
}
