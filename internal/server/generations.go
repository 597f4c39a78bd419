package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	generationdomain "github.com/smallbiznis/yardcraft/internal/generation/domain"
	"github.com/smallbiznis/yardcraft/pkg/db/pagination"
)

type generationResponse struct {
	generationdomain.Request
	Areas []areaResponse `json:"areas"`
}

type areaResponse struct {
	generationdomain.AreaItem
	Refunded bool `json:"refunded"`
}

func newGenerationResponse(req generationdomain.Request) generationResponse {
	areas := make([]areaResponse, 0, len(req.Areas))
	for _, area := range req.Areas {
		areas = append(areas, areaResponse{AreaItem: area, Refunded: area.Refunded()})
	}
	return generationResponse{Request: req, Areas: areas}
}

func (s *Server) SubmitGeneration(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req generationdomain.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.generationSvc.Submit(c.Request.Context(), account.ID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("generation_id", resp.ID.String())

	c.JSON(http.StatusAccepted, gin.H{"data": newGenerationResponse(resp)})
}

func (s *Server) GetGeneration(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp, err := s.generationSvc.Get(c.Request.Context(), account.ID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newGenerationResponse(resp)})
}

func (s *Server) ListGenerations(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.generationSvc.List(c.Request.Context(), account.ID, query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]generationResponse, 0, len(resp.Generations))
	for _, item := range resp.Generations {
		items = append(items, newGenerationResponse(item))
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": resp.PageInfo})
}
