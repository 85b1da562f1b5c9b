package possync

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/pos_sync_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RoomServer upgrades a request into a fanout session joined to rooms.
type RoomServer interface {
	Serve(w http.ResponseWriter, r *http.Request, rooms []string) error
}

type CentralHandlers struct {
	db       *gorm.DB
	registry *Registry
	receiver *Receiver
	rooms    RoomServer
	logger   *logrus.Logger
}

func NewCentralHandlers(db *gorm.DB, registry *Registry, receiver *Receiver, rooms RoomServer, logger *logrus.Logger) *CentralHandlers {
	return &CentralHandlers{db: db, registry: registry, receiver: receiver, rooms: rooms, logger: logger}
}

// Register mounts the central sync routes; r must already require the bearer credential.
func (h *CentralHandlers) Register(r gin.IRouter) {
	r.POST("/sync/receive-changes", h.ReceiveChangesHandler())
	r.GET("/sync/data/:entityName/:entityUuid", h.FetchEntityHandler())
	r.GET("/sync/all-for-establishment/:entityName", h.ListForEstablishmentHandler())
	if h.rooms != nil {
		r.GET("/sync/ws", h.SubscribeHandler())
	}
}

func (h *CentralHandlers) ReceiveChangesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		establishmentId, ok := utils.GetEstablishmentIdFromContext(c.Request.Context())
		if !ok || establishmentId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req ReceiveChangesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		resp := h.receiver.Receive(c.Request.Context(), establishmentId, req.Changes)
		c.JSON(http.StatusOK, resp)
	}
}

func (h *CentralHandlers) FetchEntityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := h.registry.Resolve(c.Param("entityName"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		establishmentId := requestedEstablishment(c)
		if entry.Scoped() && establishmentId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": ErrEstablishmentRequired.Error()})
			return
		}

		// Reads are cross-establishment for any authenticated caller.
		ctx := utils.SetSkipTenantScopeInContext(c.Request.Context(), true)
		rec, err := entry.Handle.Find(ctx, h.db, c.Param("entityUuid"), scopeFilter(entry, establishmentId))
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"field":       "CentralHandlers",
				"entity_name": entry.Name,
				"entity_uuid": c.Param("entityUuid"),
			}).Error("fetch failed: " + err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func (h *CentralHandlers) ListForEstablishmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := h.registry.Resolve(c.Param("entityName"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		establishmentId := strings.TrimSpace(c.Query("establishmentId"))
		if entry.Scoped() && establishmentId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": ErrEstablishmentRequired.Error()})
			return
		}

		// Reads are cross-establishment for any authenticated caller.
		ctx := utils.SetSkipTenantScopeInContext(c.Request.Context(), true)
		rows, err := entry.Handle.List(ctx, h.db, scopeFilter(entry, establishmentId))
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"field":            "CentralHandlers",
				"entity_name":      entry.Name,
				"establishment_id": establishmentId,
			}).Error("list failed: " + err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// SubscribeHandler joins the caller to the rooms of every requested establishment,
// defaulting to the credential's own.
func (h *CentralHandlers) SubscribeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := c.QueryArray("establishmentId")
		if len(ids) == 0 {
			if own, ok := utils.GetEstablishmentIdFromContext(c.Request.Context()); ok && own != "" {
				ids = []string{own}
			}
		}
		rooms := make([]string, 0, len(ids))
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				rooms = append(rooms, EstablishmentRoom(id))
			}
		}
		if err := h.rooms.Serve(c.Writer, c.Request, rooms); err != nil {
			h.logger.WithField("field", "CentralHandlers").Warn("websocket session ended: " + err.Error())
		}
	}
}

func requestedEstablishment(c *gin.Context) string {
	if v := strings.TrimSpace(c.Query("establishmentId")); v != "" {
		return v
	}
	v, _ := utils.GetEstablishmentIdFromContext(c.Request.Context())
	return v
}

// Global entities are never filtered by establishment.
func scopeFilter(entry Entry, establishmentId string) string {
	if !entry.Scoped() {
		return ""
	}
	return establishmentId
}

type EdgeHandlers struct {
	db         *gorm.DB
	session    *EdgeSession
	dispatcher *Dispatcher
	creds      *CredentialStore
}

func NewEdgeHandlers(db *gorm.DB, session *EdgeSession, dispatcher *Dispatcher, creds *CredentialStore) *EdgeHandlers {
	return &EdgeHandlers{db: db, session: session, dispatcher: dispatcher, creds: creds}
}

func (h *EdgeHandlers) Register(r gin.IRouter) {
	r.POST("/sync/session", h.StartSessionHandler())
	r.POST("/sync/dispatch", h.DispatchHandler())
	r.POST("/sync/reconcile", h.ReconcileHandler())
	r.GET("/sync/status", h.StatusHandler())
}

type StartSessionRequest struct {
	Token string `json:"token"`
}

func (h *EdgeHandlers) StartSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StartSessionRequest
		// An empty body falls back to the Authorization header.
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token := strings.TrimSpace(req.Token)
		if token == "" {
			token = strings.TrimSpace(c.GetHeader("Authorization"))
		}
		establishmentId, err := h.session.Start(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, ErrCredentialMissing) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"establishmentId": establishmentId})
	}
}

func (h *EdgeHandlers) DispatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.dispatcher.DispatchOnce(c.Request.Context())
		switch {
		case err == nil:
			c.JSON(http.StatusOK, report)
		case errors.Is(err, ErrDispatchInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, ErrCredentialMissing):
			c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, report)
		}
	}
}

func (h *EdgeHandlers) ReconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.session.Reconcile(c.Request.Context())
		if err != nil {
			if errors.Is(err, ErrCredentialMissing) {
				c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

type StatusResponse struct {
	EstablishmentId string           `json:"establishmentId"`
	Pending         int64            `json:"pending"`
	Synced          int64            `json:"synced"`
	Subscribed      []string         `json:"subscribed"`
	LastDispatch    *DispatchReport  `json:"lastDispatch"`
	LastReconcile   *ReconcileReport `json:"lastReconcile"`
}

func (h *EdgeHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pending, synced, err := PendingCounts(c.Request.Context(), h.db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, StatusResponse{
			EstablishmentId: h.creds.EstablishmentId(),
			Pending:         pending,
			Synced:          synced,
			Subscribed:      h.session.Subscribed(),
			LastDispatch:    h.dispatcher.LastReport(),
			LastReconcile:   h.session.LastReconcile(),
		})
	}
}
