package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Morditux/sessionkit/internal/apperr"
	"github.com/Morditux/sessionkit/internal/upload"
)

const RoleSeller = "seller"

func (s *Server) productImages(c *gin.Context) {
	form, ok := s.parseUpload(c, "images", upload.ProductImages)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": form.Files})
}

func (s *Server) productForm(c *gin.Context) {
	form, ok := s.parseUpload(c, "images", upload.ProductFormData)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"fields": form.Fields, "files": form.Files})
}

func (s *Server) chatAttachments(c *gin.Context) {
	form, ok := s.parseUpload(c, "attachments", upload.ChatAttachments)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": form.Files})
}

func (s *Server) parseUpload(c *gin.Context, field string, lim upload.Limits) (*upload.Form, bool) {
	form, err := upload.Parse(c.Writer, c.Request, field, lim)
	if err != nil {
		if upload.IsClientError(err) {
			apperr.Abort(c, apperr.Validation(err.Error()))
		} else {
			apperr.Abort(c, apperr.Internal(err))
		}
		return nil, false
	}
	return form, true
}
