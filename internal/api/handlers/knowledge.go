package handlers

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/audit"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/voice"
)

// MaxKnowledgeUpload bounds multipart knowledge base uploads.
const MaxKnowledgeUpload = 20 << 20

var knowledgeExtensions = map[string]bool{
	".pdf": true, ".txt": true, ".docx": true, ".md": true, ".html": true, ".epub": true,
}

type URLDocumentRequest struct {
	URL  string `json:"url" binding:"required,url,max=2048"`
	Name string `json:"name" binding:"max=200"`
}

// syncKnowledge pushes the agent's full document list to the vendor.
func (h *Handler) syncKnowledge(ctx context.Context, agent *models.Agent) error {
	docs, err := h.store.ListDocuments(ctx, agent.UserID, agent.ID)
	if err != nil {
		return err
	}
	return h.voice.UpdateAgent(ctx, agent.VendorAgentID, h.agentSpec(agent, docs))
}

// AddKnowledge accepts either a multipart file or a JSON url.
func (h *Handler) AddKnowledge(c *gin.Context) {
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	agent, err := h.store.Agent(ctx, userID, c.Param("id"))
	if err != nil {
		h.storeError(c, err, "agent")
		return
	}

	doc := &models.KnowledgeDocument{
		ID:      store.NewID(),
		UserID:  userID,
		AgentID: agent.ID,
	}

	// vendor uploads can take longer than a store call
	vctx, vcancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer vcancel()

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			errors.BadRequest(c, "file is required")
			return
		}
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if !knowledgeExtensions[ext] {
			errors.BadRequest(c, "unsupported file type "+ext)
			return
		}
		f, err := fh.Open()
		if err != nil {
			errors.BadRequest(c, "unreadable file")
			return
		}
		defer f.Close()

		name := strings.TrimSpace(c.PostForm("name"))
		if name == "" {
			name = fh.Filename
		}
		vdoc, err := h.voice.UploadDocument(vctx, name, fh.Filename, f)
		if err != nil {
			h.vendorError(c, voice.VendorName, err)
			return
		}
		doc.VendorDocumentID, doc.Name, doc.Source = vdoc.ID, name, models.SourceFile
	} else {
		var req URLDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errors.BadRequest(c, err.Error())
			return
		}
		u, err := url.Parse(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors.BadRequest(c, "url must be http or https")
			return
		}
		name := req.Name
		if name == "" {
			name = u.Host + u.Path
		}
		vdoc, err := h.voice.AddURLDocument(vctx, name, req.URL)
		if err != nil {
			h.vendorError(c, voice.VendorName, err)
			return
		}
		doc.VendorDocumentID, doc.Name, doc.Source, doc.URL = vdoc.ID, name, models.SourceURL, req.URL
	}

	ctx, cancel = h.dbContext(c)
	defer cancel()
	if err := h.store.AddDocument(ctx, doc); err != nil {
		if delErr := h.voice.DeleteDocument(context.WithoutCancel(vctx), doc.VendorDocumentID); delErr != nil {
			h.logger.Warn("Failed to roll back vendor document", zap.String("vendor_document_id", doc.VendorDocumentID), zap.Error(delErr))
		}
		errors.InternalError(c, err, h.logger)
		return
	}
	if err := h.syncKnowledge(vctx, agent); err != nil {
		h.vendorError(c, voice.VendorName, err)
		return
	}

	audit.Log(ctx, h.store.Client(), userID, audit.ActionCreate, "knowledge_document", doc.ID, map[string]interface{}{"agent_id": agent.ID, "source": doc.Source})
	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) ListKnowledge(c *gin.Context) {
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	if _, err := h.store.Agent(ctx, userID, c.Param("id")); err != nil {
		h.storeError(c, err, "agent")
		return
	}
	docs, err := h.store.ListDocuments(ctx, userID, c.Param("id"))
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": docs, "count": len(docs)})
}

func (h *Handler) DeleteKnowledge(c *gin.Context) {
	userID := currentUser(c)
	agentID, docID := c.Param("id"), c.Param("docId")

	ctx, cancel := h.dbContext(c)
	defer cancel()

	agent, err := h.store.Agent(ctx, userID, agentID)
	if err != nil {
		h.storeError(c, err, "agent")
		return
	}
	doc, err := h.store.Document(ctx, userID, agentID, docID)
	if err != nil {
		h.storeError(c, err, "document")
		return
	}

	if err := h.store.DeleteDocument(ctx, userID, agentID, docID); err != nil {
		h.storeError(c, err, "document")
		return
	}
	// detach first: the vendor refuses to delete a document still in use
	if err := h.syncKnowledge(c.Request.Context(), agent); err != nil {
		h.vendorError(c, voice.VendorName, err)
		return
	}
	if err := h.voice.DeleteDocument(c.Request.Context(), doc.VendorDocumentID); err != nil && !isVendorNotFound(err) {
		h.logger.Warn("Failed to delete vendor document",
			zap.String("document_id", doc.ID),
			zap.String("vendor_document_id", doc.VendorDocumentID),
			zap.Error(err))
	}

	audit.Log(ctx, h.store.Client(), userID, audit.ActionDelete, "knowledge_document", docID, nil)
	c.JSON(http.StatusOK, gin.H{"message": "document deleted"})
}
