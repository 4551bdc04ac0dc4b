package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/gradtts/api"
	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/model/models/gradtts"
	"github.com/ollama/gradtts/version"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer(t *testing.T) *Server {
	t.Helper()

	m, err := gradtts.New(gradtts.Options{
		NFeats:   8,
		Dim:      8,
		DimMults: []int{1, 2},
		Groups:   2,
		Heads:    2,
		HeadDim:  4,
		BetaMin:  0.05,
		BetaMax:  20,
		PEScale:  1000,
	}, ml.NewRand(1))
	require.NoError(t, err)

	return &Server{sched: InitScheduler(m)}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var b bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&b).Encode(body))
	}

	req := httptest.NewRequest(method, path, &b)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

// melInput returns nFeats rows of n frames with distinct values.
func melInput(nFeats, n int) [][]float64 {
	rows := make([][]float64, nFeats)
	for f := range rows {
		rows[f] = make([]float64, n)
		for i := range rows[f] {
			rows[f][i] = float64(f-i) / 4
		}
	}
	return rows
}

func seed(v uint64) *uint64 {
	return &v
}

func TestGeneralRoutes(t *testing.T) {
	h := testServer(t).GenerateRoutes()

	w := do(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gradtts is running", w.Body.String())

	w = do(t, h, http.MethodHead, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, version.Version, decode[map[string]string](t, w)["version"])

	w = do(t, h, http.MethodGet, "/api/synthesize", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestShowHandler(t *testing.T) {
	s := testServer(t)
	h := s.GenerateRoutes()

	w := do(t, h, http.MethodPost, "/api/show", api.ShowRequest{Verbose: true})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[api.ShowResponse](t, w)
	assert.Equal(t, "gradtts", resp.Details.Architecture)
	assert.Equal(t, 8, resp.Details.NFeats)
	assert.Equal(t, []int{1, 2}, resp.Details.DimMults)
	assert.Equal(t, 2, resp.Multiple)

	store := s.sched.model.Backend().(*ml.Store)
	assert.Equal(t, store.Params(), resp.Parameters)
	require.Len(t, resp.Tensors, store.Len())
	assert.Equal(t, "estimator.time_mlp.0.weight", resp.Tensors[0].Name)
	assert.Equal(t, []int{32, 8}, resp.Tensors[0].Shape)

	w = do(t, h, http.MethodPost, "/api/show", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[api.ShowResponse](t, w).Tensors)
}

func TestSynthesizeHandler(t *testing.T) {
	h := testServer(t).GenerateRoutes()

	req := api.SynthesizeRequest{
		Mu:       melInput(8, 5),
		Length:   3,
		Sampling: api.Sampling{Steps: 2, Seed: seed(7)},
	}

	w := do(t, h, http.MethodPost, "/api/synthesize", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, err := uuid.Parse(w.Header().Get(requestIDHeader))
	assert.NoError(t, err)

	first := decode[api.SynthesizeResponse](t, w)
	assert.Equal(t, 2, first.Steps)
	require.Len(t, first.Mel, 8)
	for _, row := range first.Mel {
		assert.Len(t, row, 3)
	}

	w = do(t, h, http.MethodPost, "/api/synthesize", req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.Mel, decode[api.SynthesizeResponse](t, w).Mel, "gleicher Seed, gleiches Ergebnis")

	req.Stochastic = true
	w = do(t, h, http.MethodPost, "/api/synthesize", req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, first.Mel, decode[api.SynthesizeResponse](t, w).Mel)
}

func TestSynthesizeHandlerErrors(t *testing.T) {
	h := testServer(t).GenerateRoutes()

	ragged := melInput(8, 4)
	ragged[3] = ragged[3][:2]

	cases := map[string]any{
		"empty body":   nil,
		"feature rows": api.SynthesizeRequest{Mu: melInput(4, 4)},
		"no frames":    api.SynthesizeRequest{Mu: melInput(8, 0)},
		"ragged rows":  api.SynthesizeRequest{Mu: ragged},
		"long length":  api.SynthesizeRequest{Mu: melInput(8, 4), Length: 5},
		"steps":        api.SynthesizeRequest{Mu: melInput(8, 4), Sampling: api.Sampling{Steps: -1}},
		"temperature":  api.SynthesizeRequest{Mu: melInput(8, 4), Sampling: api.Sampling{Temperature: -2}},
		"wrong field":  map[string]any{"mu": "not a matrix"},
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/synthesize", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestEditPitchHandler(t *testing.T) {
	h := testServer(t).GenerateRoutes()

	mu := melInput(8, 6)
	req := api.EditPitchRequest{
		Mu:       mu,
		MuEdit:   mu,
		EditMask: make([]float64, 6),
		Sampling: api.Sampling{Steps: 2, Seed: seed(3)},
	}

	w := do(t, h, http.MethodPost, "/api/edit/pitch", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[api.EditResponse](t, w)
	require.Len(t, resp.Mel, 8)
	assert.Len(t, resp.Mel[0], 6)
	assert.Equal(t, resp.Mel, resp.MelEdit, "ohne Edit-Maske folgt der Edit dem Original")

	req.Stochastic = true
	w = do(t, h, http.MethodPost, "/api/edit/pitch", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req.Stochastic = false
	req.EditMask = req.EditMask[:4]
	w = do(t, h, http.MethodPost, "/api/edit/pitch", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req.EditMask = make([]float64, 6)
	req.MuEdit = melInput(8, 4)
	w = do(t, h, http.MethodPost, "/api/edit/pitch", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEditTextHandler(t *testing.T) {
	h := testServer(t).GenerateRoutes()

	req := api.EditTextRequest{
		Mu:           melInput(8, 5),
		MuEdit:       melInput(8, 7),
		EditMaskGrad: []float64{0, 0, 1, 1, 0, 0, 0},
		I1:           2,
		J1:           4,
		I2:           1,
		J2:           3,
		Sampling:     api.Sampling{Steps: 2, Seed: seed(5)},
	}

	w := do(t, h, http.MethodPost, "/api/edit/text", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[api.EditResponse](t, w)
	require.Len(t, resp.Mel, 8)
	require.Len(t, resp.MelEdit, 8)
	assert.Len(t, resp.Mel[0], 5)
	assert.Len(t, resp.MelEdit[0], 7)

	req.J2 = 10
	w = do(t, h, http.MethodPost, "/api/edit/text", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// spans reaching into the padding of mu (6 frames) or mu_edit (8 frames)
	for name, span := range map[string][3]int{
		"j2 in padding":     {2, 1, 6},
		"target in padding": {6, 1, 3},
		"beyond length":     {2, 2, 4},
	} {
		r := req
		r.I1, r.I2, r.J2 = span[0], span[1], span[2]
		if name == "beyond length" {
			r.Length = 3
		}

		w = do(t, h, http.MethodPost, "/api/edit/text", r)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
		assert.Contains(t, w.Body.String(), "does not fit", name)
	}

	req.J2 = 3
	req.EditMaskGrad = req.EditMaskGrad[:5]
	w = do(t, h, http.MethodPost, "/api/edit/text", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueFull(t *testing.T) {
	s := testServer(t)
	s.sched.maxQueue = 0
	h := s.GenerateRoutes()

	release, err := s.sched.acquire(context.Background())
	require.NoError(t, err)

	w := do(t, h, http.MethodPost, "/api/synthesize", api.SynthesizeRequest{Mu: melInput(8, 2), Sampling: api.Sampling{Steps: 1}})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ErrMaxQueue.Error(), decode[map[string]string](t, w)["error"])

	release()

	w = do(t, h, http.MethodPost, "/api/synthesize", api.SynthesizeRequest{Mu: melInput(8, 2), Sampling: api.Sampling{Steps: 1}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSchedulerAcquire(t *testing.T) {
	s := testServer(t).sched
	s.maxQueue = 1

	release, err := s.acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, s.pending.Load(), "abgebrochene Anfrage zaehlt nicht mehr")

	release()
	assert.EqualValues(t, 0, s.pending.Load())
}

func TestRequestID(t *testing.T) {
	h := testServer(t).GenerateRoutes()

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, id)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, id, w.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "not-a-uuid")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.NotEqual(t, "not-a-uuid", w.Header().Get(requestIDHeader))
}

func TestAllowedHosts(t *testing.T) {
	s := testServer(t)
	s.addr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11500}
	h := s.GenerateRoutes()

	cases := map[string]int{
		"localhost":         http.StatusOK,
		"localhost:11500":   http.StatusOK,
		"127.0.0.1:11500":   http.StatusOK,
		"192.168.1.10":      http.StatusOK,
		"studio.local":      http.StatusOK,
		"decoder.internal":  http.StatusOK,
		"example.com":       http.StatusForbidden,
		"gradtts.evil.test": http.StatusForbidden,
	}

	for host, want := range cases {
		t.Run(host, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = host
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, want, w.Code)
		})
	}
}
