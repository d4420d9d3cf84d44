package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/Rooms/internal/adapters/signal"
	"github.com/dkeye/Rooms/internal/app/orch"
	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handlers is the REST surface used by simulated clients and the harness.
type Handlers struct {
	Orch *orch.SessionCoordinator
}

type JoinRequest struct {
	Participant  domain.ParticipantID `json:"participant" binding:"required"`
	Name         string               `json:"name"`
	Publish      []domain.StreamKind  `json:"publish"`
	Subscribe    []domain.StreamID    `json:"subscribe"`
	SubscribeAll *bool                `json:"subscribe_all"`
}

type JoinResponse struct {
	Participant   domain.Participant          `json:"participant"`
	Streams       []domain.StreamEndpoint     `json:"streams"`
	Subscriptions []domain.SubscriptionHandle `json:"subscriptions"`
	ElapsedMs     int64                       `json:"elapsed_ms"`
}

type PublishRequest struct {
	Kind domain.StreamKind `json:"kind"`
}

type SubscribeRequest struct {
	Stream domain.StreamID `json:"stream" binding:"required"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

type AwaitRequest struct {
	Transition   domain.ParticipantState `json:"transition"`
	Participants []domain.ParticipantID  `json:"participants"`
	Count        int                     `json:"count"`
	TimeoutMs    int64                   `json:"timeout_ms"`
}

// StatusOf maps an operation error to an HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrUnknownParticipant),
		errors.Is(err, domain.ErrStreamNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateParticipant),
		errors.Is(err, domain.ErrRoomClosed),
		errors.Is(err, domain.ErrSelfSubscription):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNegotiationFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, domain.ErrDisplayNameEmpty),
		errors.Is(err, domain.ErrDisplayNameTooLong),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrUnknownKind),
		errors.Is(err, domain.ErrUnknownState),
		errors.Is(err, domain.ErrInvalidExpectation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := StatusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": signal.ErrorCode(err), "message": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload", "message": err.Error()})
}

func (h *Handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Orch.RoomList()})
}

func (h *Handlers) getRoom(c *gin.Context) {
	snap, err := h.Orch.Snapshot(domain.RoomID(c.Param("room")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) evictRoom(c *gin.Context) {
	n, err := h.Orch.EvictRoom(c.Request.Context(), domain.RoomID(c.Param("room")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evicted": n})
}

func (h *Handlers) join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.Orch.Join(c.Request.Context(), orch.JoinRequest{
		Room:         domain.RoomID(c.Param("room")),
		Participant:  req.Participant,
		DisplayName:  req.Name,
		Publish:      req.Publish,
		Subscribe:    req.Subscribe,
		SubscribeAll: req.SubscribeAll == nil || *req.SubscribeAll,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, JoinResponse{
		Participant:   res.Participant,
		Streams:       res.Streams,
		Subscriptions: res.Subscriptions,
		ElapsedMs:     res.Elapsed.Milliseconds(),
	})
}

func (h *Handlers) leave(c *gin.Context) {
	dep, err := h.Orch.Leave(c.Request.Context(), domain.RoomID(c.Param("room")), domain.ParticipantID(c.Param("participant")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"departure": dep.String()})
}

func (h *Handlers) rename(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Orch.Rename(c.Request.Context(), domain.RoomID(c.Param("room")), domain.ParticipantID(c.Param("participant")), req.Name); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) publish(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ep, err := h.Orch.Publish(c.Request.Context(), domain.RoomID(c.Param("room")), domain.ParticipantID(c.Param("participant")), req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ep)
}

func (h *Handlers) unpublish(c *gin.Context) {
	err := h.Orch.Unpublish(c.Request.Context(), domain.RoomID(c.Param("room")), domain.ParticipantID(c.Param("participant")), domain.StreamID(c.Param("stream")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	handle, err := h.Orch.Subscribe(c.Request.Context(), domain.RoomID(c.Param("room")), domain.ParticipantID(c.Param("participant")), req.Stream)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handle)
}

func (h *Handlers) unsubscribe(c *gin.Context) {
	err := h.Orch.Unsubscribe(c.Request.Context(), domain.RoomID(c.Param("room")), domain.ParticipantID(c.Param("participant")), domain.StreamID(c.Param("stream")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) await(c *gin.Context) {
	var req AwaitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	exp := core.Expectation{
		Transition:   req.Transition,
		Participants: req.Participants,
		Count:        req.Count,
		Timeout:      time.Duration(req.TimeoutMs) * time.Millisecond,
	}
	start := time.Now()
	if err := h.Orch.WaitFor(c.Request.Context(), domain.RoomID(c.Param("room")), exp); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true, "elapsed_ms": time.Since(start).Milliseconds()})
}
