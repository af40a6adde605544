package accessgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func badRequest(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": code})
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func notFound(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": code})
}

func conflict(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": code})
}

func tooMany(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
}

func badGateway(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": code})
}

func serverErr(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": code})
}
