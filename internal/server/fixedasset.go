package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	fixedassetdomain "github.com/smallbiznis/glcore/internal/fixedasset/domain"
)

type upsertAssetRequest struct {
	AssetID       string `json:"asset_id"`
	Book          string `json:"book"`
	Entity        string `json:"entity"`
	Currency      string `json:"currency"`
	Category      string `json:"category"`
	ParentAssetID string `json:"parent_asset_id"`

	CostMinor    int64  `json:"cost_minor"`
	SalvageMinor int64  `json:"salvage_minor"`
	StartDate    string `json:"start_date"`
	LifeMonths   int    `json:"life_months"`
	Method       string `json:"method"`

	ExpenseAccountID string `json:"expense_account_id"`
	AccumAccountID   string `json:"accum_account_id"`
}

func (s *Server) UpsertAsset(c *gin.Context) {
	var req upsertAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	start, err := parseDate(req.StartDate)
	if err != nil {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "expected YYYY-MM-DD or RFC3339"))
		return
	}
	expenseID, err := accountID(req.ExpenseAccountID, "expense_account_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	accumID, err := accountID(req.AccumAccountID, "accum_account_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	asset, err := s.fixedAssetSvc.UpsertAsset(c.Request.Context(), fixedassetdomain.UpsertAssetRequest{
		AssetID:          req.AssetID,
		Book:             req.Book,
		Entity:           req.Entity,
		Currency:         req.Currency,
		Category:         req.Category,
		ParentAssetID:    req.ParentAssetID,
		CostMinor:        req.CostMinor,
		SalvageMinor:     req.SalvageMinor,
		StartDate:        start,
		LifeMonths:       req.LifeMonths,
		Method:           fixedassetdomain.Method(req.Method),
		ExpenseAccountID: expenseID,
		AccumAccountID:   accumID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, asset)
}

func (s *Server) ListAssets(c *gin.Context) {
	assets, err := s.fixedAssetSvc.ListAssets(c.Request.Context(), c.Query("book"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets})
}

func (s *Server) GetAssetByID(c *gin.Context) {
	asset, err := s.fixedAssetSvc.GetAsset(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func (s *Server) GetAssetHistory(c *gin.Context) {
	history, err := s.fixedAssetSvc.AssetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": history})
}

type buildScheduleRequest struct {
	TotalUnits int64 `json:"total_units"`
	Usage      []struct {
		PeriodKey string `json:"period_key"`
		Units     int64  `json:"units"`
	} `json:"usage"`
}

func (s *Server) BuildAssetSchedule(c *gin.Context) {
	var req buildScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	usage := make([]fixedassetdomain.PeriodUnits, 0, len(req.Usage))
	for _, u := range req.Usage {
		usage = append(usage, fixedassetdomain.PeriodUnits{PeriodKey: u.PeriodKey, Units: u.Units})
	}

	schedule, err := s.fixedAssetSvc.BuildSchedule(c.Request.Context(), fixedassetdomain.BuildScheduleRequest{
		AssetID:    c.Param("id"),
		TotalUnits: req.TotalUnits,
		Usage:      usage,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, schedule)
}

type upsertGroupRequest struct {
	GroupID  string `json:"group_id"`
	Book     string `json:"book"`
	Entity   string `json:"entity"`
	Currency string `json:"currency"`

	StartDate  string `json:"start_date"`
	LifeMonths int    `json:"life_months"`
	Method     string `json:"method"`

	ExpenseAccountID string `json:"expense_account_id"`
	AccumAccountID   string `json:"accum_account_id"`
}

func (s *Server) UpsertGroup(c *gin.Context) {
	var req upsertGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	start, err := parseDate(req.StartDate)
	if err != nil {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "expected YYYY-MM-DD or RFC3339"))
		return
	}
	expenseID, err := accountID(req.ExpenseAccountID, "expense_account_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	accumID, err := accountID(req.AccumAccountID, "accum_account_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	group, err := s.fixedAssetSvc.UpsertGroup(c.Request.Context(), fixedassetdomain.UpsertGroupRequest{
		GroupID:          req.GroupID,
		Book:             req.Book,
		Entity:           req.Entity,
		Currency:         req.Currency,
		StartDate:        start,
		LifeMonths:       req.LifeMonths,
		Method:           fixedassetdomain.Method(req.Method),
		ExpenseAccountID: expenseID,
		AccumAccountID:   accumID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

type addGroupMemberRequest struct {
	AssetID string `json:"asset_id"`
}

func (s *Server) AddGroupMember(c *gin.Context) {
	var req addGroupMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.fixedAssetSvc.AddGroupMember(c.Request.Context(), c.Param("id"), req.AssetID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_id": c.Param("id"), "asset_id": req.AssetID})
}

func (s *Server) BuildGroupSchedule(c *gin.Context) {
	schedule, err := s.fixedAssetSvc.BuildGroupSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, schedule)
}

func (s *Server) GetScheduleByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	schedule, err := s.fixedAssetSvc.GetSchedule(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedule)
}

func (s *Server) PostSchedulePeriod(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	result, err := s.fixedAssetSvc.PostPeriod(c.Request.Context(), id, c.Param("period"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type upsertAroRequest struct {
	AroID   string `json:"aro_id"`
	AssetID string `json:"asset_id"`

	Book     string `json:"book"`
	Entity   string `json:"entity"`
	Currency string `json:"currency"`

	PresentValueMinor int64  `json:"present_value_minor"`
	DiscountRate      string `json:"discount_rate"`
	StartDate         string `json:"start_date"`
	SettlementDate    string `json:"settlement_date"`

	LiabilityAccountID string `json:"liability_account_id"`
	AccretionAccountID string `json:"accretion_account_id"`
}

func (s *Server) UpsertARO(c *gin.Context) {
	var req upsertAroRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	start, err := parseDate(req.StartDate)
	if err != nil {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "expected YYYY-MM-DD or RFC3339"))
		return
	}
	settlement, err := parseDate(req.SettlementDate)
	if err != nil {
		AbortWithError(c, newValidationError("settlement_date", "invalid_settlement_date", "expected YYYY-MM-DD or RFC3339"))
		return
	}
	liabilityID, err := accountID(req.LiabilityAccountID, "liability_account_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	accretionID, err := accountID(req.AccretionAccountID, "accretion_account_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	aro, err := s.fixedAssetSvc.UpsertARO(c.Request.Context(), fixedassetdomain.UpsertARORequest{
		AroID:              req.AroID,
		AssetID:            req.AssetID,
		Book:               req.Book,
		Entity:             req.Entity,
		Currency:           req.Currency,
		PresentValueMinor:  req.PresentValueMinor,
		DiscountRate:       req.DiscountRate,
		StartDate:          start,
		SettlementDate:     settlement,
		LiabilityAccountID: liabilityID,
		AccretionAccountID: accretionID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, aro)
}

func (s *Server) BuildAroSchedule(c *gin.Context) {
	schedule, err := s.fixedAssetSvc.BuildAroAccretion(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, schedule)
}

func (s *Server) PostAccretionPeriod(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	result, err := s.fixedAssetSvc.PostAccretion(c.Request.Context(), id, c.Param("period"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type impairmentRequest struct {
	AssetID          string `json:"asset_id"`
	TestDate         string `json:"test_date"`
	RecoverableMinor int64  `json:"recoverable_minor"`
	ExpenseAccountID string `json:"expense_account_id"`
}

func (s *Server) impairmentDomainRequest(c *gin.Context) (fixedassetdomain.ImpairmentRequest, bool) {
	var req impairmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return fixedassetdomain.ImpairmentRequest{}, false
	}

	testDate, err := parseDate(req.TestDate)
	if err != nil {
		AbortWithError(c, newValidationError("test_date", "invalid_test_date", "expected YYYY-MM-DD or RFC3339"))
		return fixedassetdomain.ImpairmentRequest{}, false
	}

	var expenseID snowflake.ID
	if strings.TrimSpace(req.ExpenseAccountID) != "" {
		expenseID, err = accountID(req.ExpenseAccountID, "expense_account_id")
		if err != nil {
			AbortWithError(c, err)
			return fixedassetdomain.ImpairmentRequest{}, false
		}
	}

	return fixedassetdomain.ImpairmentRequest{
		AssetID:          req.AssetID,
		TestDate:         testDate,
		RecoverableMinor: req.RecoverableMinor,
		ExpenseAccountID: expenseID,
	}, true
}

func (s *Server) PreviewImpairment(c *gin.Context) {
	req, ok := s.impairmentDomainRequest(c)
	if !ok {
		return
	}
	result, err := s.fixedAssetSvc.PreviewImpairment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) PostImpairment(c *gin.Context) {
	req, ok := s.impairmentDomainRequest(c)
	if !ok {
		return
	}
	result, err := s.fixedAssetSvc.PostImpairment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func accountID(raw, field string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, newValidationError(field, "invalid_account_id", field+" is not a valid ID")
	}
	return id, nil
}
