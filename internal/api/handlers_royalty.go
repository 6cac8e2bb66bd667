package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tradebrain/internal/auth"
)

func (s *Server) handleMyRoyalties(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := s.deps.Repo.ListRoyaltiesByCreator(c.Request.Context(), auth.GetUserID(c), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"royalties": entries})
}

func (s *Server) handleRoyaltySummary(c *gin.Context) {
	summary, err := s.deps.Repo.GetRoyaltySummary(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleBillingStatus(c *gin.Context) {
	status, err := s.deps.Biller.Status(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleListInvoices(c *gin.Context) {
	invoices, err := s.deps.Repo.ListInvoices(c.Request.Context(), auth.GetUserID(c), 24)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}
