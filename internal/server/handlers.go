package server

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/errors"
	"multiapi-go/internal/manager"
)

// maxRequestBody bounds an incoming completion payload.
const maxRequestBody = 10 << 20

// complete forwards one completion payload through the manager. A
// preferred provider may arrive as an X-Provider header or a top-level
// "provider" field, which is stripped before the payload goes upstream.
func (h *handlers) complete(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		apiError(c, http.StatusBadRequest, "invalid_request_error", "request body must be a JSON object")
		return
	}

	preferred := c.GetHeader("X-Provider")
	if field := gjson.GetBytes(payload, "provider"); field.Exists() {
		if preferred == "" {
			preferred = field.String()
		}
		payload, _ = sjson.DeleteBytes(payload, "provider")
	}
	if preferred != "" {
		c.Set("provider", preferred)
	}

	res, err := h.deps.Manager.Complete(c.Request.Context(), manager.Request{
		Payload:  payload,
		Provider: preferred,
	})
	if err != nil {
		completionError(c, err)
		return
	}

	c.Set("provider", res.Provider)
	c.Header("X-Served-By-Provider", res.Provider)
	c.Header("X-Served-By-Credential", res.KeyUsed)
	c.Data(res.Response.Status, "application/json", res.Response.Body)
}

// completionError maps manager failures onto HTTP statuses.
func completionError(c *gin.Context, err error) {
	var ce *errors.ConfigurationError
	if stderrors.As(err, &ce) {
		apiError(c, http.StatusBadRequest, "invalid_request_error", ce.Error())
		return
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		apiError(c, http.StatusGatewayTimeout, "timeout_error", "request timed out")
		return
	}
	if stderrors.Is(err, context.Canceled) {
		c.Status(499) // client closed request
		return
	}
	var ee *errors.ExhaustedError
	if stderrors.As(err, &ee) {
		apiError(c, http.StatusServiceUnavailable, "exhausted_error", ee.Error())
		return
	}
	apiError(c, http.StatusBadGateway, "upstream_error", err.Error())
}

func (h *handlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Manager.Stats())
}

func (h *handlers) listCredentials(c *gin.Context) {
	stats := h.deps.Manager.Stats()
	c.JSON(http.StatusOK, gin.H{"providers": stats.Providers})
}

type addCredentialRequest struct {
	Key        string `json:"key" binding:"required"`
	Provider   string `json:"provider" binding:"required"`
	BaseURL    string `json:"base_url"`
	DailyLimit int    `json:"daily_limit"`
	Priority   int    `json:"priority"`
}

func (h *handlers) addCredential(c *gin.Context) {
	var req addCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	err := h.deps.Manager.AddCredential(c.Request.Context(), credential.State{
		Identifier: req.Key,
		Provider:   req.Provider,
		Endpoint:   req.BaseURL,
		DailyLimit: req.DailyLimit,
		Priority:   req.Priority,
	})
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"provider":   req.Provider,
		"credential": credential.RedactIdentifier(req.Key),
	})
}

func (h *handlers) removeCredential(c *gin.Context) {
	providerName := c.Param("provider")
	suffix := c.Param("suffix")
	if err := h.deps.Manager.RemoveCredential(c.Request.Context(), providerName, suffix); err != nil {
		adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

type toggleRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *handlers) toggleCredential(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	providerName := c.Param("provider")
	suffix := c.Param("suffix")
	if err := h.deps.Manager.SetActive(c.Request.Context(), providerName, suffix, *req.Active); err != nil {
		adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": *req.Active})
}

func adminError(c *gin.Context, err error) {
	var ce *errors.ConfigurationError
	if stderrors.As(err, &ce) {
		apiError(c, http.StatusBadRequest, "invalid_request_error", ce.Error())
		return
	}
	apiError(c, http.StatusNotFound, "not_found_error", err.Error())
}

func apiError(c *gin.Context, status int, typ, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    typ,
		},
	})
}
