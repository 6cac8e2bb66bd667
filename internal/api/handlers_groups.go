package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tradebrain/internal/auth"
	"tradebrain/internal/database"
)

func (s *Server) handleCreateGroup(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}

	group, err := s.deps.Groups.Create(c.Request.Context(), auth.GetUserID(c), req.Name)
	if err != nil {
		s.respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (s *Server) handleListGroups(c *gin.Context) {
	list, err := s.deps.Groups.ListForUser(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": list})
}

func (s *Server) handleJoinGroup(c *gin.Context) {
	var req struct {
		JoinCode string `json:"join_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "join_code is required")
		return
	}

	group, err := s.deps.Groups.Join(c.Request.Context(), auth.GetUserID(c), strings.ToUpper(req.JoinCode))
	if err != nil {
		s.respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (s *Server) handleGetGroup(c *gin.Context) {
	userID := auth.GetUserID(c)
	groupID := c.Param("id")

	members, err := s.deps.Groups.Members(c.Request.Context(), userID, groupID)
	if err != nil {
		s.respondGroupError(c, err)
		return
	}
	list, err := s.deps.Groups.ListForUser(c.Request.Context(), userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	for _, g := range list {
		if g.ID == groupID {
			c.JSON(http.StatusOK, gin.H{"group": g, "member_count": len(members)})
			return
		}
	}
	notFound(c, "group not found")
}

func (s *Server) handleGroupMembers(c *gin.Context) {
	members, err := s.deps.Groups.Members(c.Request.Context(), auth.GetUserID(c), c.Param("id"))
	if err != nil {
		s.respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// handleGroupReferral returns the join code so owners can invite. Members
// only; the code is the group's referral.
func (s *Server) handleGroupReferral(c *gin.Context) {
	userID := auth.GetUserID(c)
	groupID := c.Param("id")

	if _, err := s.deps.Groups.Members(c.Request.Context(), userID, groupID); err != nil {
		s.respondGroupError(c, err)
		return
	}
	list, err := s.deps.Groups.ListForUser(c.Request.Context(), userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	for _, g := range list {
		if g.ID == groupID {
			c.JSON(http.StatusOK, gin.H{"join_code": g.JoinCode})
			return
		}
	}
	notFound(c, "group not found")
}

func (s *Server) handlePostGroupMessage(c *gin.Context) {
	var req struct {
		Kind    string `json:"kind"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "content is required")
		return
	}

	kind := database.MessageKind(strings.ToUpper(req.Kind))
	if kind == "" {
		kind = database.MessageText
	}

	msg, err := s.deps.Groups.Post(c.Request.Context(), auth.GetUserID(c), c.Param("id"), kind, req.Content)
	if err != nil {
		s.respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) handleListGroupMessages(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	messages, err := s.deps.Groups.Messages(c.Request.Context(), auth.GetUserID(c), c.Param("id"), limit)
	if err != nil {
		s.respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) handleDeleteGroupMessage(c *gin.Context) {
	err := s.deps.Groups.DeleteMessage(c.Request.Context(), auth.GetUserID(c), c.Param("id"), c.Param("messageID"))
	if err != nil {
		s.respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("messageID")})
}

func (s *Server) handleLeaveGroup(c *gin.Context) {
	if err := s.deps.Groups.Leave(c.Request.Context(), auth.GetUserID(c), c.Param("id")); err != nil {
		s.respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": c.Param("id")})
}

func (s *Server) handleDeleteGroup(c *gin.Context) {
	if err := s.deps.Groups.Delete(c.Request.Context(), auth.GetUserID(c), c.Param("id")); err != nil {
		s.respondGroupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

// respondGroupError maps group service failures onto the status taxonomy
func (s *Server) respondGroupError(c *gin.Context, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"), strings.Contains(msg, "invalid join code"):
		notFound(c, msg)
	case strings.Contains(msg, "not a member"),
		strings.Contains(msg, "only the owner"),
		strings.Contains(msg, "owner cannot leave"),
		strings.Contains(msg, "not allowed"):
		c.JSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN", "message": msg})
	case strings.Contains(msg, "full"),
		strings.Contains(msg, "required"),
		strings.Contains(msg, "invalid message kind"):
		badRequest(c, msg)
	default:
		s.respondError(c, err)
	}
}
