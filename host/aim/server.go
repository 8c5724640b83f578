package aim

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// Bind implements render.Binder
func (al *Alert) Bind(r *http.Request) error {
	if al.WeaponType == "" {
		return errors.New("weapon_type is required")
	}
	return nil
}

// ErrResponse is the JSON body of a failed request
type ErrResponse struct {
	Err        error  `json:"-"`
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

func errResponse(status int, err error) render.Renderer {
	return &ErrResponse{Err: err, StatusCode: status, Message: err.Error()}
}

// Routes serves POST /alert and GET /status
func (a *Aimer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/alert", a.postAlert)
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, a.Status())
	})
	return r
}

func (a *Aimer) postAlert(w http.ResponseWriter, r *http.Request) {
	alert := &Alert{}
	if err := render.Bind(r, alert); err != nil {
		render.Render(w, r, errResponse(http.StatusBadRequest, err))
		return
	}

	res, err := a.Handle(alert)
	switch {
	case errors.Is(err, ErrOutOfFrame):
		render.Render(w, r, errResponse(http.StatusBadRequest, err))
		return
	case err != nil:
		a.logger.Error("alert not applied", "err", err)
		render.Render(w, r, errResponse(http.StatusBadGateway, err))
		return
	}
	render.JSON(w, r, res)
}

// Serve listens on addr until ctx is done, stopping pan and tilt when alerts
// go quiet for TimeoutMs
func (a *Aimer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go a.watch(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("alert server listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *Aimer) watch(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(a.cfg.TimeoutMs) * time.Millisecond / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Expire(); err != nil {
				a.logger.Warn("stopping idle motors", "err", err)
			}
		}
	}
}
