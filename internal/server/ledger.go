package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/glcore/internal/ledger/domain"
	"github.com/smallbiznis/glcore/pkg/db/pagination"
)

type createAccountRequest struct {
	Book       string `json:"book"`
	Entity     string `json:"entity"`
	Currency   string `json:"currency"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	NormalSide string `json:"normal_side"`
}

func (s *Server) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.ledgerSvc.CreateAccount(c.Request.Context(), ledgerdomain.CreateAccountRequest{
		Book:       req.Book,
		Entity:     req.Entity,
		Currency:   req.Currency,
		Code:       req.Code,
		Name:       req.Name,
		NormalSide: ledgerdomain.NormalSide(req.NormalSide),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (s *Server) ListAccounts(c *gin.Context) {
	accounts, err := s.ledgerSvc.ListAccounts(c.Request.Context(), c.Query("book"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) GetAccountByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	account, err := s.ledgerSvc.GetAccount(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) GetAccountBalance(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	asOf, err := queryDate(c, "as_of")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), ledgerdomain.BalanceRequest{
		AccountID: id,
		AsOf:      asOf,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "as_of": asOf, "balance": balance})
}

type postingLineRequest struct {
	AccountID   string `json:"account_id"`
	Direction   string `json:"direction"`
	AmountMinor int64  `json:"amount_minor"`
	Narrative   string `json:"narrative"`
}

type createPostingRequest struct {
	Book           string               `json:"book"`
	Entity         string               `json:"entity"`
	Currency       string               `json:"currency"`
	EffectiveDate  string               `json:"effective_date"`
	IdempotencyKey string               `json:"idempotency_key"`
	Narrative      string               `json:"narrative"`
	Lines          []postingLineRequest `json:"lines"`
}

func (s *Server) CreatePosting(c *gin.Context) {
	var req createPostingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	effective, err := parseDate(req.EffectiveDate)
	if err != nil {
		AbortWithError(c, newValidationError("effective_date", "invalid_effective_date", "expected YYYY-MM-DD or RFC3339"))
		return
	}

	lines := make([]ledgerdomain.LineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		accountID, err := snowflake.ParseString(strings.TrimSpace(line.AccountID))
		if err != nil {
			AbortWithError(c, newValidationError("lines.account_id", "invalid_account_id", "account_id is not a valid ID"))
			return
		}
		lines = append(lines, ledgerdomain.LineInput{
			AccountID: accountID,
			Direction: ledgerdomain.EntryDirection(line.Direction),
			Amount:    line.AmountMinor,
			Narrative: line.Narrative,
		})
	}

	result, err := s.ledgerSvc.Post(c.Request.Context(), ledgerdomain.PostRequest{
		Book:           req.Book,
		Entity:         req.Entity,
		Currency:       req.Currency,
		EffectiveDate:  effective,
		IdempotencyKey: req.IdempotencyKey,
		Narrative:      req.Narrative,
		Lines:          lines,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (s *Server) ListPostings(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := ledgerdomain.ListPostingsRequest{
		Book:      c.Query("book"),
		PageToken: page.PageToken,
		PageSize:  int32(page.PageSize),
	}
	if raw := strings.TrimSpace(c.Query("account_id")); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("account_id", "invalid_account_id", "account_id is not a valid ID"))
			return
		}
		req.AccountID = id
	}

	postings, err := s.ledgerSvc.ListPostings(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	info := pagination.PageInfo{}
	if page.PageSize > 0 && len(postings) == page.PageSize {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: postings[len(postings)-1].ID.String()})
		if err == nil {
			info.NextPageToken = token
			info.HasMore = true
		}
	}
	c.JSON(http.StatusOK, gin.H{"postings": postings, "page_info": info})
}

func (s *Server) GetPostingByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	posting, err := s.ledgerSvc.GetPosting(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, posting)
}

func (s *Server) GetTrialBalance(c *gin.Context) {
	asOf, err := queryDate(c, "as_of")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tb, err := s.ledgerSvc.TrialBalance(c.Request.Context(), ledgerdomain.TrialBalanceRequest{
		Book: c.Query("book"),
		AsOf: asOf,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tb)
}

func pathID(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil {
		return 0, newValidationError(name, "invalid_id", "path parameter is not a valid ID")
	}
	return id, nil
}

// parseDate accepts a date or a full timestamp.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// queryDate reads an optional date query parameter, defaulting to now.
func queryDate(c *gin.Context, name string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := parseDate(raw)
	if err != nil {
		return time.Time{}, newValidationError(name, "invalid_date", "expected YYYY-MM-DD or RFC3339")
	}
	return t, nil
}
