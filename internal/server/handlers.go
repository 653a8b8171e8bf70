package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/chat"
	"github.com/fyrsmithlabs/chatd/internal/model"
	"github.com/fyrsmithlabs/chatd/internal/store"
)

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}

func (s *Server) resolveWorkspace(c echo.Context) (*model.Workspace, *model.Thread, error) {
	ws, thread, err := s.orchestrator.Resolve(c.Request().Context(),
		c.Param("slug"), c.Param("threadSlug"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, errorJSON(c, http.StatusNotFound, err.Error())
		}
		return nil, nil, errorJSON(c, http.StatusInternalServerError, "lookup failed")
	}
	return ws, thread, nil
}

// slugify reduces a display name to a URL-safe slug.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = uuid.New().String()
	}
	return slug
}

// --- workspaces ---

type workspaceRequest struct {
	Name                string  `json:"name"`
	ChatMode            string  `json:"chatMode"`
	SimilarityThreshold string  `json:"similarityThreshold"`
	TopN                int     `json:"topN"`
	HistoryLength       int     `json:"historyLength"`
	PromptTemplate      string  `json:"promptTemplate"`
	QueryRefusal        string  `json:"queryRefusal"`
	ChatProvider        string  `json:"chatProvider"`
	ChatModel           string  `json:"chatModel"`
	Temperature         float64 `json:"temperature"`
}

func (r *workspaceRequest) apply(ws *model.Workspace) {
	ws.Name = r.Name
	if r.ChatMode != "" {
		ws.ChatMode = model.ChatMode(r.ChatMode)
	}
	if r.SimilarityThreshold != "" {
		ws.SimilarityThreshold = r.SimilarityThreshold
	}
	ws.TopN = r.TopN
	ws.HistoryLength = r.HistoryLength
	ws.PromptTemplate = r.PromptTemplate
	ws.QueryRefusal = r.QueryRefusal
	ws.ChatProvider = r.ChatProvider
	ws.ChatModel = r.ChatModel
	ws.Temperature = r.Temperature
}

func (s *Server) handleCreateWorkspace(c echo.Context) error {
	var req workspaceRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return errorJSON(c, http.StatusBadRequest, "name is required")
	}
	if req.ChatMode != "" && !model.ChatMode(req.ChatMode).Valid() {
		return errorJSON(c, http.StatusBadRequest, "invalid chat mode")
	}

	ws := model.Workspace{Slug: slugify(req.Name)}
	req.apply(&ws)

	err := s.store.CreateWorkspace(c.Request().Context(), &ws)
	if errors.Is(err, store.ErrDuplicateSlug) {
		// Retry once with a unique suffix.
		ws.Slug = ws.Slug + "-" + uuid.New().String()[:8]
		err = s.store.CreateWorkspace(c.Request().Context(), &ws)
	}
	if err != nil {
		s.logger.Error("creating workspace failed", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "could not create workspace")
	}
	return c.JSON(http.StatusCreated, ws)
}

func (s *Server) handleListWorkspaces(c echo.Context) error {
	workspaces, err := s.store.ListWorkspaces(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "could not list workspaces")
	}
	if workspaces == nil {
		workspaces = []model.Workspace{}
	}
	return c.JSON(http.StatusOK, workspaces)
}

func (s *Server) handleGetWorkspace(c echo.Context) error {
	ws, _, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	return c.JSON(http.StatusOK, ws)
}

func (s *Server) handleUpdateWorkspace(c echo.Context) error {
	ws, _, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	var req workspaceRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ChatMode != "" && !model.ChatMode(req.ChatMode).Valid() {
		return errorJSON(c, http.StatusBadRequest, "invalid chat mode")
	}
	if req.Name == "" {
		req.Name = ws.Name
	}
	req.apply(ws)
	if err := s.store.UpdateWorkspace(c.Request().Context(), ws); err != nil {
		return errorJSON(c, http.StatusInternalServerError, "could not update workspace")
	}
	return c.JSON(http.StatusOK, ws)
}

func (s *Server) handleDeleteWorkspace(c echo.Context) error {
	ws, _, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	if err := s.orchestrator.DeleteWorkspace(c.Request().Context(), ws); err != nil {
		s.logger.Error("deleting workspace failed",
			zap.String("workspace", ws.Slug), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "could not delete workspace")
	}
	return c.NoContent(http.StatusNoContent)
}

// --- threads ---

type threadRequest struct {
	Name   string  `json:"name"`
	Slug   string  `json:"slug"`
	UserID *string `json:"userId"`
}

func (s *Server) handleCreateThread(c echo.Context) error {
	ws, _, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	var req threadRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	slug := req.Slug
	if slug == "" {
		slug = uuid.New().String()
	}
	thread := model.Thread{
		WorkspaceID: ws.ID,
		Slug:        slug,
		Name:        req.Name,
		UserID:      req.UserID,
	}
	if err := s.store.CreateThread(c.Request().Context(), &thread); err != nil {
		if errors.Is(err, store.ErrDuplicateSlug) {
			return errorJSON(c, http.StatusConflict, "thread slug already exists")
		}
		return errorJSON(c, http.StatusInternalServerError, "could not create thread")
	}
	return c.JSON(http.StatusCreated, thread)
}

func (s *Server) handleDeleteThread(c echo.Context) error {
	ws, thread, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil || thread == nil {
		return nil
	}
	ctx := c.Request().Context()
	if err := s.store.DeleteChatsByThread(ctx, thread.ID); err != nil {
		return errorJSON(c, http.StatusInternalServerError, "could not delete thread chats")
	}
	if err := s.store.DeleteThread(ctx, thread.ID); err != nil {
		return errorJSON(c, http.StatusInternalServerError, "could not delete thread")
	}
	return c.NoContent(http.StatusNoContent)
}

// --- documents ---

type addDocumentsRequest struct {
	DocPaths []string `json:"docPaths"`
}

func (s *Server) handleAddDocuments(c echo.Context) error {
	ws, _, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	var req addDocumentsRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if len(req.DocPaths) == 0 {
		return errorJSON(c, http.StatusBadRequest, "docPaths is required")
	}
	result, err := s.docs.AddDocuments(c.Request().Context(), ws, req.DocPaths)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "could not add documents")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"added":  result.Added,
		"failed": result.Failed,
	})
}

type removeDocumentRequest struct {
	DocPath string `json:"docPath"`
}

func (s *Server) handleRemoveDocument(c echo.Context) error {
	ws, _, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	var req removeDocumentRequest
	if err := c.Bind(&req); err != nil || req.DocPath == "" {
		return errorJSON(c, http.StatusBadRequest, "docPath is required")
	}
	if err := s.docs.RemoveDocument(c.Request().Context(), ws, req.DocPath); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "document not found")
		}
		return errorJSON(c, http.StatusInternalServerError, "could not remove document")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListDocuments(c echo.Context) error {
	ws, _, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	docs, err := s.docs.ListDocuments(c.Request().Context(), ws)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "could not list documents")
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return c.JSON(http.StatusOK, docs)
}

type pinDocumentRequest struct {
	DocPath string `json:"docPath"`
	Pinned  bool   `json:"pinned"`
}

func (s *Server) handlePinDocument(c echo.Context) error {
	ws, _, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	var req pinDocumentRequest
	if err := c.Bind(&req); err != nil || req.DocPath == "" {
		return errorJSON(c, http.StatusBadRequest, "docPath is required")
	}
	if err := s.docs.SetPinned(c.Request().Context(), ws, req.DocPath, req.Pinned); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "document not found")
		}
		return errorJSON(c, http.StatusInternalServerError, "could not update pin state")
	}
	return c.NoContent(http.StatusNoContent)
}

// --- chat ---

type chatRequest struct {
	Message string  `json:"message"`
	Mode    string  `json:"mode"`
	UserID  *string `json:"userId"`
}

func (r *chatRequest) toRequest() chat.Request {
	return chat.Request{
		Message: r.Message,
		Mode:    model.ChatMode(r.Mode),
		UserID:  r.UserID,
	}
}

func (s *Server) handleChat(c echo.Context) error {
	ws, thread, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errorJSON(c, http.StatusBadRequest, "message is required")
	}
	if req.Mode != "" && !model.ChatMode(req.Mode).Valid() {
		return errorJSON(c, http.StatusBadRequest, "invalid chat mode")
	}

	chunk, err := s.orchestrator.Chat(c.Request().Context(), ws, thread, req.toRequest())
	if err != nil {
		s.logger.Error("chat turn failed", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "chat failed")
	}
	return c.JSON(http.StatusOK, chunk)
}

func (s *Server) handleStreamChat(c echo.Context) error {
	ws, thread, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errorJSON(c, http.StatusBadRequest, "message is required")
	}
	if req.Mode != "" && !model.ChatMode(req.Mode).Valid() {
		return errorJSON(c, http.StatusBadRequest, "invalid chat mode")
	}

	writer, err := chat.NewStreamWriter(c.Response())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "streaming unsupported")
	}
	if err := s.orchestrator.StreamChat(c.Request().Context(), ws, thread, req.toRequest(), writer); err != nil {
		s.logger.Error("stream chat turn failed", zap.Error(err))
	}
	return nil
}

// --- feedback and export ---

type feedbackRequest struct {
	// Feedback is tri-state: true, false, or null to clear.
	Feedback *bool `json:"feedback"`
}

func (s *Server) handleFeedback(c echo.Context) error {
	ws, _, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	chatID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid chat id")
	}
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if err := s.orchestrator.Feedback(c.Request().Context(), ws, chatID, req.Feedback); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "chat not found")
		}
		return errorJSON(c, http.StatusInternalServerError, "could not record feedback")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleExportChats(c echo.Context) error {
	ws, _, err := s.resolveWorkspace(c)
	if err != nil {
		return err
	}
	if ws == nil {
		return nil
	}
	format := c.QueryParam("format")
	if format == "" {
		format = chat.ExportJSON
	}
	payload, contentType, err := s.orchestrator.ExportChats(c.Request().Context(), ws, format)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownExportFormat) {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		return errorJSON(c, http.StatusInternalServerError, "could not export chats")
	}
	return c.Blob(http.StatusOK, contentType, payload)
}
