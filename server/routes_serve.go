// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Load() - Decoder laden, Serve() - Hauptfunktion zum Starten des HTTP-Servers

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ollama/gradtts/envconfig"
	"github.com/ollama/gradtts/logutil"
	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/model"
	"github.com/ollama/gradtts/model/models/gradtts"
	"github.com/ollama/gradtts/version"
)

// Load laedt den Decoder aus path und bricht nach GRADTTS_LOAD_TIMEOUT ab
func Load(ctx context.Context, path string) (*gradtts.Model, error) {
	ctx, cancel := context.WithTimeout(ctx, envconfig.LoadTimeout())
	defer cancel()

	type result struct {
		m   model.Model
		err error
	}

	ch := make(chan result, 1)
	go func() {
		m, err := model.New(path)
		ch <- result{m, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("loading %s: %w", path, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, r.err)
		}

		m, ok := r.m.(*gradtts.Model)
		if !ok {
			return nil, fmt.Errorf("%w: %s is a %T", model.ErrUnsupportedModel, path, r.m)
		}
		return m, nil
	}
}

// Serve laedt den Decoder und startet den HTTP-Server
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	ml.SetThreads(int(envconfig.NumThreads()))

	ctx, done := context.WithCancel(context.Background())
	defer done()

	start := time.Now()
	m, err := Load(ctx, envconfig.Models())
	if err != nil {
		return err
	}

	s := &Server{addr: ln.Addr(), sched: InitScheduler(m)}
	s.sched.loadDuration = time.Since(start)
	slog.Info("decoder loaded", "path", envconfig.Models(), "duration", s.sched.loadDuration, "threads", ml.Threads())

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	srvr := &http.Server{
		Handler: s.GenerateRoutes(),
	}

	// auf ctrl+c warten
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()
		done()
	}()

	err = srvr.Serve(ln)
	// Wurde der Server vom Signal-Handler geschlossen, auf ctx warten,
	// sonst sofort mit Fehler zurueck
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-ctx.Done()
	return nil
}
