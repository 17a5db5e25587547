package mockplane

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const shutdownGrace = 5 * time.Second

// RunServerInterruptible starts the HTTP server and returns a stop channel
// and a done channel. Closing (or sending on) stop triggers a graceful
// shutdown; done yields the terminal error, nil on clean shutdown.
func RunServerInterruptible(port int, h *Handler) (chan<- struct{}, <-chan error) {
	stopCh := make(chan struct{})
	doneCh := make(chan error, 1)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: h.Router(),
	}

	go func() {
		<-stopCh
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("forced shutdown")
			_ = srv.Close()
		}
	}()

	go func() {
		log.WithField("addr", srv.Addr).Info("mock control plane listening")
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		doneCh <- err
	}()

	return stopCh, doneCh
}
