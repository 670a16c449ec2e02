// Package main is an example of a minimal project using the Forge framework:
// it registers an event listener, bridges an event through the queue, and
// dispatches a background job.
//
// To run this example:
//
//	cd example
//	go run . serve
//	# Then: curl -X POST http://localhost:8080/signup -d '{"email":"ada@example.com"}'
package main

import (
	"encoding/json"
	"net/http"

	"github.com/lalaz-foundation/forge/internal/server"
	"github.com/lalaz-foundation/forge/pkg/app"
	"github.com/lalaz-foundation/forge/pkg/event"
	"github.com/lalaz-foundation/forge/pkg/logger"
	"github.com/lalaz-foundation/forge/pkg/queue"
	"github.com/lalaz-foundation/forge/pkg/router"
)

// WelcomeEmailJob is a background job enqueued on signup.
type WelcomeEmailJob struct {
	Email string `json:"email"`
}

func (j *WelcomeEmailJob) Handle() error {
	logger.Info("sending welcome email", "to", j.Email)
	return nil
}

func main() {
	app.New().
		Routes(func(r *router.Router) {
			r.Post("/signup", "signup", signupHandler)
			r.Get("/ping", "ping", pingHandler)
		}).
		Run()
}

// signupHandler publishes a "user.signed_up" event (delivered through the
// queue bridge when EVENTS_DRIVER=queue) and enqueues a welcome email job.
func signupHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	registerListeners()

	if err := server.Events.Trigger("user.signed_up", map[string]any{"email": body.Email}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	server.Queue.RegisterJob("*main.WelcomeEmailJob", func() queue.Job { return &WelcomeEmailJob{} })
	if _, err := server.Queue.Add(&WelcomeEmailJob{Email: body.Email}, queue.WithQueue("emails")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"}) //nolint:errcheck
}

var listenersRegistered bool

// registerListeners is lazy: the dispatcher only exists once the server has
// booted, which is after route registration.
func registerListeners() {
	if listenersRegistered || server.Events == nil {
		return
	}
	listenersRegistered = true

	_ = server.Events.Register("user.signed_up", event.Closure(func(payload any) error {
		logger.Info("user signed up", "payload", payload)
		return nil
	}), 0)
}

func pingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"pong": "true"}) //nolint:errcheck
}
