package accessgin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/PaulFidika/accesskit/core"
	jwtkit "github.com/PaulFidika/accesskit/jwt"
	"github.com/gin-gonic/gin"
)

// Register mounts the viewer API on r:
//
//	POST   /courses/:id/view             mount the course view
//	DELETE /courses/:id/view             unmount it
//	POST   /courses/:id/payment-return   post-checkout signal
//	POST   /courses/:id/profile-updated  explicit profile-updated signal
//	GET    /courses/:id/progress         view state, intent and notification
//	DELETE /courses/:id/notification     dismiss the notification
//	POST   /profile/refresh              reload the viewer profile
func Register(r gin.IRouter, h *Host, v *jwtkit.Verifier, lc *LanguageConfig) {
	g := r.Group("", AuthRequired(v), LanguageMiddleware(lc))
	g.POST("/courses/:id/view", HandleViewPOST(h))
	g.DELETE("/courses/:id/view", HandleViewDELETE(h))
	g.POST("/courses/:id/payment-return", HandlePaymentReturnPOST(h))
	g.POST("/courses/:id/profile-updated", HandleProfileUpdatedPOST(h))
	g.GET("/courses/:id/progress", HandleProgressGET(h))
	g.DELETE("/courses/:id/notification", HandleNotificationDELETE(h))
	g.POST("/profile/refresh", HandleProfileRefreshPOST(h))
}

func courseParam(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		badRequest(c, "missing_course_id")
		return "", false
	}
	return id, true
}

// allow applies the host limiter; limiter errors let the request through.
func allow(c *gin.Context, h *Host, bucket string) bool {
	if h.deps.Limiter == nil {
		return true
	}
	uid, _ := viewerID(c)
	ok, err := h.deps.Limiter.AllowNamed(c.Request.Context(), bucket, uid.String())
	if err != nil {
		h.log.WithError(err).WithField("bucket", bucket).Warn("rate limiter unavailable")
		return true
	}
	return ok
}

func writeSignalErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNotMounted):
		notFound(c, "not_mounted")
	case errors.Is(err, core.ErrAlreadyMounted):
		conflict(c, "already_mounted")
	case errors.Is(err, ErrHostClosed):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "shutting_down"})
	default:
		serverErr(c, "signal_failed")
	}
}

func HandleViewPOST(h *Host) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := courseParam(c)
		if !ok {
			return
		}
		uid, _ := viewerID(c)
		if err := h.Mount(c.Request.Context(), uid, id); err != nil {
			writeSignalErr(c, err)
			return
		}
		c.JSON(http.StatusOK, h.Progress(c.Request.Context(), uid, id))
	}
}

func HandleViewDELETE(h *Host) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := courseParam(c)
		if !ok {
			return
		}
		uid, _ := viewerID(c)
		if err := h.Unmount(uid, id); err != nil {
			writeSignalErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func HandlePaymentReturnPOST(h *Host) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := courseParam(c)
		if !ok {
			return
		}
		if !allow(c, h, RLPaymentReturn) {
			tooMany(c)
			return
		}
		uid, _ := viewerID(c)
		if err := h.PaymentReturn(c.Request.Context(), uid, id); err != nil {
			writeSignalErr(c, err)
			return
		}
		c.JSON(http.StatusAccepted, h.Progress(c.Request.Context(), uid, id))
	}
}

func HandleProfileUpdatedPOST(h *Host) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := courseParam(c)
		if !ok {
			return
		}
		if !allow(c, h, RLProfileRefresh) {
			tooMany(c)
			return
		}
		uid, _ := viewerID(c)
		if err := h.ProfileUpdated(c.Request.Context(), uid, id); err != nil {
			writeSignalErr(c, err)
			return
		}
		c.JSON(http.StatusAccepted, h.Progress(c.Request.Context(), uid, id))
	}
}

func HandleProgressGET(h *Host) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := courseParam(c)
		if !ok {
			return
		}
		uid, _ := viewerID(c)
		c.JSON(http.StatusOK, h.Progress(c.Request.Context(), uid, id))
	}
}

func HandleNotificationDELETE(h *Host) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := courseParam(c)
		if !ok {
			return
		}
		uid, _ := viewerID(c)
		if err := h.Dismiss(uid, id); err != nil {
			writeSignalErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func HandleProfileRefreshPOST(h *Host) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !allow(c, h, RLProfileRefresh) {
			tooMany(c)
			return
		}
		uid, _ := viewerID(c)
		snap, err := h.RefreshProfile(c.Request.Context(), uid)
		if err != nil {
			if errors.Is(err, ErrHostClosed) {
				writeSignalErr(c, err)
				return
			}
			badGateway(c, "profile_refresh_failed")
			return
		}
		viewer, _ := CurrentViewer(c)
		c.JSON(http.StatusOK, gin.H{
			"viewer":     viewer,
			"courses":    snap.PurchasedCourses(),
			"fetched_at": snap.FetchedAt,
		})
	}
}
