package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	recondomain "github.com/smallbiznis/glcore/internal/reconciliation/domain"
	"github.com/smallbiznis/glcore/pkg/db/pagination"
)

type createWorkspaceRequest struct {
	WorkspaceID      string `json:"workspace_id"`
	Kind             string `json:"kind"`
	LegalEntity      string `json:"legal_entity"`
	Currency         string `json:"currency"`
	AsOfDate         string `json:"as_of_date"`
	FromBook         string `json:"from_book"`
	ToBook           string `json:"to_book"`
	CounterpartyID   string `json:"counterparty_id"`
	ControlAccountID string `json:"control_account_id"`
}

func (s *Server) CreateWorkspace(c *gin.Context) {
	var req createWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	asOf, err := parseDate(req.AsOfDate)
	if err != nil {
		AbortWithError(c, newValidationError("as_of_date", "invalid_as_of_date", "expected YYYY-MM-DD or RFC3339"))
		return
	}

	var controlAccountID int64
	if raw := strings.TrimSpace(req.ControlAccountID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("control_account_id", "invalid_account_id", "control_account_id is not a valid ID"))
			return
		}
		controlAccountID = int64(id)
	}

	workspace, err := s.reconSvc.Create(c.Request.Context(), recondomain.CreateWorkspaceRequest{
		WorkspaceID:      req.WorkspaceID,
		Kind:             recondomain.WorkspaceKind(req.Kind),
		LegalEntity:      req.LegalEntity,
		Currency:         req.Currency,
		AsOfDate:         asOf,
		FromBook:         req.FromBook,
		ToBook:           req.ToBook,
		CounterpartyID:   req.CounterpartyID,
		ControlAccountID: controlAccountID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, workspace)
}

func (s *Server) ListWorkspaces(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	workspaces, err := s.reconSvc.List(c.Request.Context(), recondomain.ListWorkspacesRequest{
		Kind:      recondomain.WorkspaceKind(c.Query("kind")),
		Status:    recondomain.WorkspaceStatus(c.Query("status")),
		PageToken: page.PageToken,
		PageSize:  int32(page.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	info := pagination.PageInfo{}
	if page.PageSize > 0 && len(workspaces) == page.PageSize {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: workspaces[len(workspaces)-1].WorkspaceID})
		if err == nil {
			info.NextPageToken = token
			info.HasMore = true
		}
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": workspaces, "page_info": info})
}

func (s *Server) GetWorkspaceByID(c *gin.Context) {
	workspace, err := s.reconSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, workspace)
}

func (s *Server) GetWorkspaceHistory(c *gin.Context) {
	history, err := s.reconSvc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": history})
}

func (s *Server) CheckWorkspace(c *gin.Context) {
	result, err := s.reconSvc.Check(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) PrepareWorkspace(c *gin.Context) {
	workspace, err := s.reconSvc.Prepare(c.Request.Context(), c.Param("id"), s.actor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, workspace)
}

func (s *Server) ReviewWorkspace(c *gin.Context) {
	workspace, err := s.reconSvc.Review(c.Request.Context(), c.Param("id"), s.actor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, workspace)
}

func (s *Server) CertifyWorkspace(c *gin.Context) {
	workspace, err := s.reconSvc.Certify(c.Request.Context(), c.Param("id"), s.actor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, workspace)
}

type rejectWorkspaceRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) RejectWorkspace(c *gin.Context) {
	var req rejectWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	workspace, err := s.reconSvc.Reject(c.Request.Context(), c.Param("id"), s.actor(c), req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, workspace)
}

type attachRequest struct {
	AttachmentID string `json:"attachment_id"`
	URI          string `json:"uri"`
	Kind         string `json:"kind"`
	Note         string `json:"note"`
}

func (s *Server) AttachToWorkspace(c *gin.Context) {
	var req attachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	attachment, err := s.reconSvc.Attach(c.Request.Context(), recondomain.AttachRequest{
		WorkspaceID:  c.Param("id"),
		AttachmentID: req.AttachmentID,
		URI:          req.URI,
		Kind:         req.Kind,
		Note:         req.Note,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attachment)
}
