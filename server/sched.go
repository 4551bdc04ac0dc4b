// Package server - Zugriffssteuerung auf den geladenen Decoder
//
// Diese Datei enthält:
// - Scheduler: serialisiert Anfragen auf den einen Decoder
// - ErrMaxQueue: Fehler bei voller Warteschlange
package server

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ollama/gradtts/envconfig"
	"github.com/ollama/gradtts/model/models/gradtts"
)

// ErrMaxQueue wird zurückgegeben wenn die Warteschlange voll ist
var ErrMaxQueue = errors.New("server busy, please try again.  maximum pending requests exceeded")

// Scheduler haelt den Decoder und laesst immer nur eine Anfrage rechnen.
// Die Parameter werden dabei nur gelesen.
type Scheduler struct {
	model *gradtts.Model
	sem   *semaphore.Weighted

	// pending zaehlt laufende und wartende Anfragen
	pending  atomic.Int64
	maxQueue int64

	loadDuration time.Duration
}

// InitScheduler erstellt einen Scheduler fuer m
func InitScheduler(m *gradtts.Model) *Scheduler {
	return &Scheduler{
		model:    m,
		sem:      semaphore.NewWeighted(1),
		maxQueue: int64(envconfig.MaxQueue()),
	}
}

// acquire wartet auf exklusiven Zugriff auf den Decoder. Neben der
// laufenden Anfrage duerfen maxQueue weitere warten. ctx wird nur
// waehrend des Wartens beachtet.
func (s *Scheduler) acquire(ctx context.Context) (release func(), err error) {
	if s.pending.Add(1) > s.maxQueue+1 {
		s.pending.Add(-1)
		return nil, ErrMaxQueue
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.pending.Add(-1)
		return nil, err
	}

	return func() {
		s.sem.Release(1)
		s.pending.Add(-1)
	}, nil
}
