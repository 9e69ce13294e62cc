package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var allowedImageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// handleUploadMedia stores an uploaded image under the configured directory
// and returns its public URL. Expects a multipart field named "image".
func (s *Server) handleUploadMedia(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing image field"})
		return
	}

	maxSize := int64(s.Config.Upload.MaxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("image exceeds %dMB limit", s.Config.Upload.MaxSizeMB)})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedImageExts[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only jpg, png, gif and webp images are allowed"})
		return
	}
	contentType := file.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only images are allowed"})
		return
	}

	if err := os.MkdirAll(s.Config.Upload.Dir, 0o755); err != nil {
		s.Logger.Error("Failed to create upload directory", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	filename := fmt.Sprintf("%s-%s%s", time.Now().Format("20060102"), uuid.New().String(), ext)
	destination := filepath.Join(s.Config.Upload.Dir, filename)
	if err := c.SaveUploadedFile(file, destination); err != nil {
		s.Logger.Error("Failed to save upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	url := strings.TrimSuffix(s.Config.Upload.PublicPath, "/") + "/" + filename
	c.JSON(http.StatusCreated, gin.H{"url": url})
}
