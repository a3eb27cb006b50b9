package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/middleware"
	"github.com/hallcall/hallcall-api/pkg/utils"
	"github.com/hallcall/hallcall-api/pkg/validation"
)

// defaultCountryCode applies to national numbers written with a trunk 0.
const defaultCountryCode = "33"

const maxContactsPerRequest = 1000

type ContactInput struct {
	Phone     string            `json:"phone" binding:"required,max=32"`
	Name      string            `json:"name" binding:"max=200"`
	Variables map[string]string `json:"variables"`
}

type AddContactsRequest struct {
	Contacts []ContactInput `json:"contacts" binding:"required,min=1,dive"`
}

type RejectedContact struct {
	Index int    `json:"index"`
	Phone string `json:"phone"`
	Error string `json:"error"`
}

type AddContactsResponse struct {
	Added    int               `json:"added"`
	Skipped  int               `json:"skipped"`
	Rejected []RejectedContact `json:"rejected"`
}

// normalizeContacts converts phones to E.164 and drops duplicates inside the
// batch. Duplicates of contacts already in the campaign are dropped by the store.
func normalizeContacts(in []ContactInput) ([]models.Contact, []RejectedContact, int) {
	seen := make(map[string]bool, len(in))
	out := make([]models.Contact, 0, len(in))
	rejected := []RejectedContact{}
	dups := 0
	for i, ci := range in {
		phone, err := validation.NormalizeE164(ci.Phone, defaultCountryCode)
		if err != nil {
			rejected = append(rejected, RejectedContact{Index: i, Phone: ci.Phone, Error: err.Error()})
			continue
		}
		if seen[phone] {
			dups++
			continue
		}
		seen[phone] = true

		vars := make(map[string]string, len(ci.Variables))
		for k, v := range ci.Variables {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			vars[k] = middleware.SanitizeString(v)
		}
		out = append(out, models.Contact{
			Phone:     phone,
			Name:      middleware.SanitizeString(ci.Name),
			Variables: vars,
		})
	}
	return out, rejected, dups
}

func (h *Handler) AddContacts(c *gin.Context) {
	var req AddContactsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	if len(req.Contacts) > maxContactsPerRequest {
		errors.BadRequest(c, "at most 1000 contacts per request")
		return
	}
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	campaign, err := h.store.Campaign(ctx, userID, c.Param("id"))
	if err != nil {
		h.storeError(c, err, "campaign")
		return
	}
	if campaign.Status == models.CampaignCompleted || campaign.Status == models.CampaignCancelled {
		errors.Conflict(c, "campaign is "+campaign.Status)
		return
	}

	contacts, rejected, dups := normalizeContacts(req.Contacts)
	added := 0
	if len(contacts) > 0 {
		added, err = h.store.AddContacts(ctx, userID, campaign.ID, contacts)
		if err != nil {
			errors.InternalError(c, err, h.logger)
			return
		}
	}

	c.JSON(http.StatusCreated, AddContactsResponse{
		Added:    added,
		Skipped:  dups + len(contacts) - added,
		Rejected: rejected,
	})
}

func (h *Handler) ListContacts(c *gin.Context) {
	userID := currentUser(c)
	p := utils.ParsePagination(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	if _, err := h.store.Campaign(ctx, userID, c.Param("id")); err != nil {
		h.storeError(c, err, "campaign")
		return
	}
	contacts, total, err := h.store.ListContacts(ctx, userID, c.Param("id"), c.Query("status"), p.Skip(), int64(p.Limit))
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, utils.PaginatedResponse{
		Data:  contacts,
		Page:  p.Page,
		Limit: p.Limit,
		Total: total,
		Count: len(contacts),
	})
}

func (h *Handler) DeleteContact(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	if err := h.store.DeleteContact(ctx, currentUser(c), c.Param("id"), c.Param("contactId")); err != nil {
		h.storeError(c, err, "contact")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "contact deleted"})
}
