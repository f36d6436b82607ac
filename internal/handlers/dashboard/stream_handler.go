package dashboard

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/handlers"
	"github.com/kevin07696/fee-reconciliation/internal/services/notify"
	"github.com/kevin07696/fee-reconciliation/pkg/encoding"
)

const streamBuffer = 64

type heartbeat func() (<-chan time.Time, func())

func defaultHeartbeat() (<-chan time.Time, func()) {
	t := time.NewTicker(15 * time.Second)
	return t.C, t.Stop
}

// Stream handles GET /api/v1/events/stream as server-sent events. An
// optional institution_id narrows the stream to one institution.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var institutionID *uuid.UUID
	if v := r.URL.Query().Get("institution_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, "invalid institution_id")
			return
		}
		institutionID = &id
	}

	ctx := r.Context()
	notifications := h.subscriber.Subscribe(ctx, streamBuffer)
	beat, stop := h.heartbeat()
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	h.logger.Debug("Notification stream opened", zap.String("remote_addr", r.RemoteAddr))
	defer h.logger.Debug("Notification stream closed", zap.String("remote_addr", r.RemoteAddr))

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closing:
			return
		case <-beat:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case n, ok := <-notifications:
			if !ok {
				return
			}
			if institutionID != nil && n.InstitutionID != *institutionID {
				continue
			}
			if err := writeEvent(w, n); err != nil {
				h.logger.Debug("Notification stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent emits one frame; the data field must stay on a single line
func writeEvent(w http.ResponseWriter, n notify.Notification) error {
	data, err := encoding.EncodeJSON(n)
	if err != nil {
		return err
	}
	data = bytes.TrimRight(data, "\n")
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", n.EventID, n.Kind, data)
	return err
}
