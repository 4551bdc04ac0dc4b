// routes_edit.go - Handler fuer Edits ueber zwei Trajektorien
// Enthaelt: EditPitchHandler(), EditTextHandler()

package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ollama/gradtts/api"
	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/model/models/gradtts"
)

// EditPitchHandler dekodiert mu und mu_edit mit gleichem Rauschen. Beide
// muessen die gleiche Form haben.
func (s *Server) EditPitchHandler(c *gin.Context) {
	checkpointStart := time.Now()

	var req api.EditPitchRequest
	if !bind(c, &req) {
		return
	}

	m := s.sched.model
	nFeats := m.Options().NFeats

	in, err := newFrames(m.Estimator, nFeats, req.Mu, req.Length, "mu")
	if err != nil {
		abort(c, err)
		return
	}

	edit, err := newFrames(m.Estimator, nFeats, req.MuEdit, req.Length, "mu_edit")
	if err != nil {
		abort(c, err)
		return
	}

	if edit.n != in.n {
		abort(c, fmt.Errorf("%w: mu_edit has %d frames, mu has %d", errInvalidRequest, edit.n, in.n))
		return
	}

	editMask, err := in.maskTensor(req.EditMask, "edit_mask")
	if err != nil {
		abort(c, err)
		return
	}

	smp, err := newSampling(req.Sampling)
	if err != nil {
		abort(c, err)
		return
	}

	release, err := s.sched.acquire(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	defer release()

	checkpointLoaded := time.Now()

	eps := smp.noise(in.mu.Shape()...)
	mel, melEdit, err := m.Diffusion(smp.rand).DoubleForwardPitch(
		ml.Add(in.mu, eps), ml.Add(edit.mu, eps),
		in.mu, edit.mu,
		in.mask, editMask,
		smp.steps, smp.stochastic, editOptions(req.SoftenOptions),
	)
	if err != nil {
		abort(c, err)
		return
	}

	slog.Info("pitch edit", "id", requestID(c), "frames", in.length, "steps", smp.steps, "duration", time.Since(checkpointLoaded))

	c.JSON(http.StatusOK, api.EditResponse{
		Mel:     in.melRows(mel),
		MelEdit: edit.melRows(melEdit),
		Steps:   smp.steps,
		Metrics: api.Metrics{
			TotalDuration:     time.Since(checkpointStart),
			QueueDuration:     checkpointLoaded.Sub(checkpointStart),
			DiffusionDuration: time.Since(checkpointLoaded),
		},
	})
}

// EditTextHandler dekodiert mu und mu_edit mit eigenem Rauschen, da sich
// die Laengen unterscheiden koennen.
func (s *Server) EditTextHandler(c *gin.Context) {
	checkpointStart := time.Now()

	var req api.EditTextRequest
	if !bind(c, &req) {
		return
	}

	m := s.sched.model
	nFeats := m.Options().NFeats

	in, err := newFrames(m.Estimator, nFeats, req.Mu, req.Length, "mu")
	if err != nil {
		abort(c, err)
		return
	}

	edit, err := newFrames(m.Estimator, nFeats, req.MuEdit, req.LengthEdit, "mu_edit")
	if err != nil {
		abort(c, err)
		return
	}

	if err := gradtts.CheckSpan(req.I1, req.I2, req.J2, in.length, edit.length); err != nil {
		abort(c, err)
		return
	}

	gradMask, err := edit.maskTensor(req.EditMaskGrad, "edit_mask_grad")
	if err != nil {
		abort(c, err)
		return
	}

	smp, err := newSampling(req.Sampling)
	if err != nil {
		abort(c, err)
		return
	}

	release, err := s.sched.acquire(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	defer release()

	checkpointLoaded := time.Now()

	z := ml.Add(in.mu, smp.noise(in.mu.Shape()...))
	zEdit := ml.Add(edit.mu, smp.noise(edit.mu.Shape()...))
	mel, melEdit, err := m.Diffusion(smp.rand).DoubleForwardText(
		z, zEdit,
		in.mu, edit.mu,
		in.mask, edit.mask, gradMask,
		req.I1, req.J1, req.I2, req.J2,
		smp.steps, smp.stochastic, editOptions(req.SoftenOptions),
	)
	if err != nil {
		abort(c, err)
		return
	}

	slog.Info("text edit", "id", requestID(c), "frames", in.length, "frames_edit", edit.length, "steps", smp.steps, "duration", time.Since(checkpointLoaded))

	c.JSON(http.StatusOK, api.EditResponse{
		Mel:     in.melRows(mel),
		MelEdit: edit.melRows(melEdit),
		Steps:   smp.steps,
		Metrics: api.Metrics{
			TotalDuration:     time.Since(checkpointStart),
			QueueDuration:     checkpointLoaded.Sub(checkpointStart),
			DiffusionDuration: time.Since(checkpointLoaded),
		},
	})
}
