package controllers

import (
	"net/http"

	"github.com/lalaz-foundation/forge/pkg/bind"
	"github.com/lalaz-foundation/forge/pkg/event"
	"github.com/lalaz-foundation/forge/pkg/response"
)

// EventController exposes the event dispatcher over the admin API: list
// registered events and trigger a publication by hand (useful for smoke
// testing listeners and the queue bridge).
type EventController struct {
	dispatcher func() *event.Dispatcher
}

func NewEventController(dispatcher func() *event.Dispatcher) *EventController {
	return &EventController{dispatcher: dispatcher}
}

func (c *EventController) resolve(w http.ResponseWriter) *event.Dispatcher {
	d := c.dispatcher()
	if d == nil {
		response.Error(w, http.StatusServiceUnavailable, "event dispatcher not initialised")
	}
	return d
}

// List handles GET /events: the registered event names and listener counts.
func (c *EventController) List(w http.ResponseWriter, r *http.Request) {
	d := c.resolve(w)
	if d == nil {
		return
	}

	registry := d.SyncDriverOf().Registry()
	out := map[string]int{}
	for _, name := range registry.Events() {
		out[name] = registry.Count(name)
	}
	response.Success(w, out)
}

type triggerRequest struct {
	Name    string      `json:"name" validate:"required"`
	Payload interface{} `json:"payload"`
	Sync    bool        `json:"sync"`
}

// Trigger handles POST /events/trigger. With sync=true the listeners run on
// this request's goroutine; otherwise the configured async driver (e.g. the
// queue bridge) decides.
func (c *EventController) Trigger(w http.ResponseWriter, r *http.Request) {
	d := c.resolve(w)
	if d == nil {
		return
	}

	var body triggerRequest
	if errs, err := bind.JSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	} else if errs != nil {
		response.ValidationError(w, errs)
		return
	}

	var err error
	if body.Sync {
		err = d.TriggerSync(body.Name, body.Payload)
	} else {
		err = d.Trigger(body.Name, body.Payload)
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.Success(w, map[string]interface{}{"triggered": body.Name, "sync": body.Sync})
}
