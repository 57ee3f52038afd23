package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	corebatch "github.com/caesium-cloud/fanout/internal/batch"
	"github.com/caesium-cloud/fanout/internal/event"
	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/labstack/echo/v4"
)

var pingInterval = 15 * time.Second

// Events streams a batch's transitions as server-sent events. The stream
// ends after the batch reaches a terminal status.
func (ctrl *Controller) Events(c echo.Context) error {
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	id, err := parseID(c)
	if err != nil {
		return err
	}

	filter := event.Filter{BatchID: id}
	if typesStr := c.QueryParam("types"); typesStr != "" {
		for _, s := range strings.Split(typesStr, ",") {
			filter.Types = append(filter.Types, event.Type(strings.TrimSpace(s)))
		}
	}

	ch, err := ctrl.bus.Subscribe(ctx, filter)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	// Subscribe first so a transition between the lookup and the stream is
	// not lost.
	b, err := ctrl.service(ctx).Get(id)
	if err != nil {
		return httpError(err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")

	if corebatch.Status(b.Status).Terminal() {
		return write(c, finished(b))
	}

	if _, err := fmt.Fprintf(c.Response(), ": ping\n\n"); err != nil {
		return nil
	}
	c.Response().Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// the bus drops events for slow subscribers, so the terminal
			// event may never arrive
			if b, err := ctrl.service(ctx).Get(id); err == nil && corebatch.Status(b.Status).Terminal() {
				_ = write(c, finished(b))
				return nil
			}
			if _, err := fmt.Fprintf(c.Response(), ": ping\n\n"); err != nil {
				return nil
			}
			c.Response().Flush()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := write(c, e); err != nil {
				return nil
			}
			if e.Type == event.TypeBatchFinished || e.Type == event.TypeBatchCancelled {
				return nil
			}
		}
	}
}

func finished(b *models.Batch) event.Event {
	return event.Event{
		Type:      event.TypeBatchFinished,
		BatchID:   b.ID,
		Status:    b.Status,
		Timestamp: b.UpdatedAt,
	}
}

func write(c echo.Context, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		c.Logger().Errorf("failed to marshal event for SSE stream: %v", err)
		return nil
	}

	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
