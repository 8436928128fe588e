package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/yourorg/textblast/internal/db"
	"github.com/yourorg/textblast/internal/types"
)

// RunStore is the part of the run registry the handlers use.
type RunStore interface {
	Create(ctx context.Context, r db.Run) (db.Run, error)
	UpdateStatus(ctx context.Context, workflowID, status string, errorKind *string, result []byte) error
	List(ctx context.Context, limit, offset int) ([]db.Run, error)
}

type RunHandler struct {
	starter RunStarter
	// nil when no registry database is configured
	store RunStore
	log   *zap.Logger
}

func NewRunHandler(starter RunStarter, store RunStore, log *zap.Logger) *RunHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RunHandler{starter: starter, store: store, log: log}
}

type StartRunRequest struct {
	DataLocation string `json:"data_location" binding:"required"`
	OutputFolder string `json:"output_folder" binding:"required"`
	Workers      int    `json:"workers"`
	MinLength    int    `json:"min_length"`
	Subgraph     bool   `json:"subgraph"`
	TSV          bool   `json:"tsv"`
	Full         bool   `json:"full"`
	KeepScratch  bool   `json:"keep_scratch"`
	Catalog      bool   `json:"catalog"`
}

type StartRunResponse struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// StartRun starts a new pipeline run as a Temporal workflow.
func (h *RunHandler) StartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Workers < 0 || req.MinLength < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workers and min_length must not be negative"})
		return
	}

	runID := ulid.Make().String()
	workflowID := "textblast-" + strings.ToLower(runID)
	params := types.RunParams{
		RunID:        runID,
		DataLocation: req.DataLocation,
		OutputFolder: req.OutputFolder,
		Workers:      req.Workers,
		MinLength:    req.MinLength,
		Subgraph:     req.Subgraph,
		TSV:          req.TSV,
		Full:         req.Full,
		KeepScratch:  req.KeepScratch,
		Catalog:      req.Catalog,
	}
	temporalRunID, err := h.starter.Start(c.Request.Context(), workflowID, params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start workflow: " + err.Error()})
		return
	}
	if h.store != nil {
		_, err := h.store.Create(c.Request.Context(), db.Run{
			WorkflowID:   workflowID,
			RunID:        runID,
			DataLocation: req.DataLocation,
			OutputFolder: req.OutputFolder,
			Status:       StatusRunning,
		})
		if err != nil {
			// the run is already going; losing the registry row is not fatal
			h.log.Warn("run not registered", zap.String("workflow_id", workflowID), zap.Error(err))
		}
	}
	h.log.Info("run started", zap.String("workflow_id", workflowID), zap.String("data", req.DataLocation))
	c.JSON(http.StatusAccepted, StartRunResponse{WorkflowID: workflowID, RunID: temporalRunID})
}

// GetRunStatus reports the status of one run, with its result once complete.
func (h *RunHandler) GetRunStatus(c *gin.Context) {
	workflowID := c.Param("id")
	if workflowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Workflow ID is required"})
		return
	}
	st, err := h.starter.Status(c.Request.Context(), workflowID)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to describe workflow: " + err.Error()})
		return
	}
	if h.store != nil && st.Status != StatusRunning {
		var kind *string
		if st.ErrorKind != "" {
			kind = &st.ErrorKind
		}
		if err := h.store.UpdateStatus(c.Request.Context(), workflowID, st.Status, kind, resultJSON(st)); err != nil && !errors.Is(err, db.ErrNotFound) {
			h.log.Warn("run status not recorded", zap.String("workflow_id", workflowID), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, st)
}

// ListRuns lists registered runs, newest first.
func (h *RunHandler) ListRuns(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "run registry is not configured"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	runs, err := h.store.List(c.Request.Context(), limit, (page-1)*limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":       runs,
		"pagination": gin.H{"page": page, "limit": limit},
	})
}

// Register mounts the run routes on g.
func (h *RunHandler) Register(g gin.IRoutes) {
	g.POST("/runs", h.StartRun)
	g.GET("/runs", h.ListRuns)
	g.GET("/runs/:id", h.GetRunStatus)
}
