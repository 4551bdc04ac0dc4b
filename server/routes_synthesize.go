// routes_synthesize.go - Handler fuer Synthese und Modellinfo
// Enthaelt: bind(), SynthesizeHandler(), ShowHandler(), Describe()

package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ollama/gradtts/api"
	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/model/models/gradtts"
)

// bind liest den JSON-Body in req und bricht bei Fehlern mit 400 ab
func bind(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	switch {
	case errors.Is(err, io.EOF):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return false
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) SynthesizeHandler(c *gin.Context) {
	checkpointStart := time.Now()

	var req api.SynthesizeRequest
	if !bind(c, &req) {
		return
	}

	m := s.sched.model
	in, err := newFrames(m.Estimator, m.Options().NFeats, req.Mu, req.Length, "mu")
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
	mel, err := m.Diffusion(smp.rand).Forward(z, in.mask, in.mu, smp.steps, smp.stochastic)
	if err != nil {
		abort(c, err)
		return
	}

	slog.Info("synthesized", "id", requestID(c), "frames", in.length, "steps", smp.steps, "duration", time.Since(checkpointLoaded))

	c.JSON(http.StatusOK, api.SynthesizeResponse{
		Mel:   in.melRows(mel),
		Steps: smp.steps,
		Metrics: api.Metrics{
			TotalDuration:     time.Since(checkpointStart),
			QueueDuration:     checkpointLoaded.Sub(checkpointStart),
			DiffusionDuration: time.Since(checkpointLoaded),
		},
	})
}

func (s *Server) ShowHandler(c *gin.Context) {
	var req api.ShowRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, Describe(s.sched.model, req.Verbose))
}

// Describe fasst Hyperparameter und Tensoren eines Decoders zusammen.
// Die Tensorliste wird nur mit verbose gefuellt.
func Describe(m *gradtts.Model, verbose bool) api.ShowResponse {
	opts := m.Options()
	b := m.Backend()

	resp := api.ShowResponse{
		Details: api.ModelDetails{
			Architecture: b.Config().Architecture(),
			NFeats:       opts.NFeats,
			Dim:          opts.Dim,
			DimMults:     opts.DimMults,
			Groups:       opts.Groups,
			Heads:        opts.Heads,
			HeadDim:      opts.HeadDim,
			BetaMin:      opts.BetaMin,
			BetaMax:      opts.BetaMax,
			PEScale:      opts.PEScale,
		},
		Multiple: m.Estimator.Multiple(),
	}

	for _, name := range b.Names() {
		t := b.Get(name)
		resp.Parameters += t.Len()
		if verbose {
			resp.Tensors = append(resp.Tensors, api.TensorInfo{Name: name, Shape: t.Shape()})
		}
	}

	return resp
}
