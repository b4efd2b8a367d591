package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	clientdomain "github.com/smallbiznis/tontine/internal/client/domain"
)

type createClientRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

func (s *Server) CreateClient(c *gin.Context) {
	var req createClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	client, created, err := s.clientSvc.Create(c.Request.Context(), clientdomain.CreateRequest{
		AgentID:  agentIDFromContext(c),
		FullName: req.FullName,
		Phone:    req.Phone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": client, "existing": !created})
}

func (s *Server) GetClientByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	client, err := s.ownedClient(c, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": client})
}

func (s *Server) GetClientLoan(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if _, err := s.ownedClient(c, id); err != nil {
		AbortWithError(c, err)
		return
	}

	loan, err := s.clientSvc.AvailableLoan(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": loan})
}

func (s *Server) ownedClient(c *gin.Context, id snowflake.ID) (clientdomain.Client, error) {
	client, err := s.clientSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		return clientdomain.Client{}, err
	}
	if client.AgentID != agentIDFromContext(c) {
		return clientdomain.Client{}, clientdomain.ErrClientNotFound
	}
	return client, nil
}
