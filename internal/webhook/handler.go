package webhook

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"identity-service/internal/logger"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes expects r to sit behind the session middleware.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/webhooks/search", h.search)
}

type result struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (h *Handler) search(c *gin.Context) {
	hooks, err := h.store.Search(c.Request.Context(), c.Query("organization"), c.Query("project"))
	if err != nil {
		logger.Error("webhook search failed", map[string]any{
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "webhook search failed",
		})
		return
	}

	out := make([]result, 0, len(hooks))
	for _, w := range hooks {
		out = append(out, result{Key: w.Key, Name: w.Name, URL: w.URL})
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": out})
}
