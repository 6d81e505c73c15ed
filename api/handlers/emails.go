package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/worksphere/mailsync/internal/repository"
	"github.com/worksphere/mailsync/internal/tracing"
)

const (
	defaultEmailPageSize = 50
	maxEmailPageSize     = 200
)

type EmailsHandler struct {
	repositories *repository.Repositories
}

func NewEmailsHandler(repos *repository.Repositories) *EmailsHandler {
	return &EmailsHandler{
		repositories: repos,
	}
}

// List returns a page of stored emails for an account folder
func (h *EmailsHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListEmails", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("id"))

		folder := c.DefaultQuery("folder", "inbox")
		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultEmailPageSize)))
		if err != nil || limit <= 0 {
			limit = defaultEmailPageSize
		}
		if limit > maxEmailPageSize {
			limit = maxEmailPageSize
		}
		offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if err != nil || offset < 0 {
			offset = 0
		}

		emails, total, err := h.repositories.EmailRepository.ListByFolder(ctx, c.Param("id"), folder, limit, offset)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"emails": emails,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}
