package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-commerce-erpsync/internal/archive"
	"github.com/imrishuroy/go-commerce-erpsync/internal/jobs"
	"github.com/imrishuroy/go-commerce-erpsync/internal/logger"
	"github.com/imrishuroy/go-commerce-erpsync/internal/metrics"
	"github.com/imrishuroy/go-commerce-erpsync/internal/validation"
	"github.com/imrishuroy/go-commerce-erpsync/internal/webhook"
)

// HeaderAdminToken authenticates the admin routes.
const HeaderAdminToken = "X-Admin-Token"

// maxBodyBytes bounds a single webhook delivery.
const maxBodyBytes = 10 << 20

// HandlerConfig groups dependencies for the HTTP routes.
type HandlerConfig struct {
	Webhooks   *webhook.Service
	Queue      jobs.Queue
	Metrics    *metrics.Recorder // optional
	AdminToken string            // empty disables /admin
	Logger     logger.Logger
}

// SetupRouter builds the engine with every route registered.
func SetupRouter(cfg HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, cfg)
	return r
}

// RegisterRoutes registers health, webhook ingress and admin replay.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	v := validation.New()

	r.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if cfg.Queue != nil {
			if n, err := cfg.Queue.Len(c.Request.Context()); err == nil {
				body["queue_depth"] = n
			}
		}
		if cfg.Metrics != nil {
			s := cfg.Metrics.Snapshot()
			body["jobs"] = gin.H{
				"processed": s.Processed,
				"failed":    s.Failed,
				"retried":   s.Retried,
				"dropped":   s.Dropped,
			}
		}
		c.JSON(http.StatusOK, body)
	})

	r.POST("/webhooks/woocommerce", func(c *gin.Context) {
		// the signature covers the exact bytes, so the body is read once and never re-encoded
		ctx := c.Request.Context()
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err != nil {
			ref := cfg.Webhooks.Reject(ctx, c.Request.Header, body, c.Request.ContentLength, "unreadable_body: "+err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unreadable_body", "archive_ref": ref})
			return
		}
		if len(body) > maxBodyBytes {
			ref := cfg.Webhooks.Reject(ctx, c.Request.Header, body, c.Request.ContentLength, "body_too_large")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false, "error": "body_too_large", "archive_ref": ref})
			return
		}
		resp := cfg.Webhooks.Handle(ctx, webhook.Request{Header: c.Request.Header, Body: body})
		c.JSON(resp.Status, resp.Body)
	})

	admin := r.Group("/admin", requireAdmin(cfg.AdminToken))
	admin.POST("/replay", func(c *gin.Context) {
		ctx := c.Request.Context()
		var req validation.ReplayRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		env, err := cfg.Webhooks.Replay(ctx, req.Ref)
		switch {
		case err == nil:
			body := gin.H{"ok": true, "ref": req.Ref, "queued": env != nil}
			if env != nil {
				body["type"] = env.Type
				body["order_id"] = env.OrderID
			}
			c.JSON(http.StatusOK, body)
		case errors.Is(err, archive.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "archive_not_found", "ref": req.Ref})
		case errors.Is(err, webhook.ErrNotReplayable):
			c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "not_replayable", "detail": err.Error()})
		case errors.Is(err, webhook.ErrMalformed):
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "malformed_payload", "detail": err.Error()})
		case errors.Is(err, webhook.ErrSchema), errors.Is(err, jobs.ErrInvalidJob):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"ok": false, "error": "invalid_payload", "detail": err.Error()})
		case errors.Is(err, webhook.ErrEnqueue):
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "enqueue_failed"})
		default:
			log.Errorf(ctx, "[admin] replay %s failed: %v", req.Ref, err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "replay_failed", "detail": err.Error()})
		}
	})
}

func requireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": "admin_disabled"})
			return
		}
		got := c.GetHeader(HeaderAdminToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid_admin_token"})
			return
		}
		c.Next()
	}
}
