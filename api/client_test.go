package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestClientFromEnvironment(t *testing.T) {
	cases := map[string]struct {
		value  string
		expect string
	}{
		"empty":             {value: "", expect: "http://127.0.0.1:11500"},
		"only address":      {value: "1.2.3.4", expect: "http://1.2.3.4:11500"},
		"address and port":  {value: "1.2.3.4:1234", expect: "http://1.2.3.4:1234"},
		"scheme https":      {value: "https://1.2.3.4", expect: "https://1.2.3.4:443"},
		"hostname and port": {value: "example.com:1234", expect: "http://example.com:1234"},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("GRADTTS_HOST", tt.value)

			client, err := ClientFromEnvironment()
			if err != nil {
				t.Fatal(err)
			}

			if client.base.String() != tt.expect {
				t.Fatalf("erwartet %s, bekommen %s", tt.expect, client.base.String())
			}
		})
	}
}

func testClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	base, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}

	return NewClient(base, ts.Client())
}

func TestClientSynthesize(t *testing.T) {
	seed := uint64(7)
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/synthesize" {
			t.Errorf("unerwartete Anfrage %s %s", r.Method, r.URL.Path)
		}

		if !strings.HasPrefix(r.Header.Get("User-Agent"), "gradtts/") {
			t.Errorf("User-Agent fehlt: %q", r.Header.Get("User-Agent"))
		}

		var req SynthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}

		if req.Steps != 3 || req.Seed == nil || *req.Seed != seed {
			t.Errorf("Sampling nicht uebertragen: %+v", req.Sampling)
		}

		json.NewEncoder(w).Encode(SynthesizeResponse{Mel: req.Mu, Steps: req.Steps})
	})

	resp, err := client.Synthesize(context.Background(), &SynthesizeRequest{
		Mu:       [][]float64{{1, 2}, {3, 4}},
		Sampling: Sampling{Steps: 3, Seed: &seed},
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Steps != 3 || len(resp.Mel) != 2 || resp.Mel[1][1] != 4 {
		t.Errorf("falsche Antwort: %+v", resp)
	}
}

func TestClientError(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"json":  {body: `{"error":"server busy"}`, want: "server busy"},
		"plain": {body: "kaputt", want: "kaputt"},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(tt.body))
			})

			_, err := client.Show(context.Background(), &ShowRequest{})

			var statusErr StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("erwartet StatusError, bekommen %v", err)
			}

			if statusErr.StatusCode != http.StatusServiceUnavailable {
				t.Errorf("Status %d statt 503", statusErr.StatusCode)
			}

			if statusErr.ErrorMessage != tt.want {
				t.Errorf("erwartet %q, bekommen %q", tt.want, statusErr.ErrorMessage)
			}
		})
	}
}

func TestClientVersion(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		default:
			w.Write([]byte(`{"version":"1.2.3"}`))
		}
	})

	if err := client.Heartbeat(context.Background()); err != nil {
		t.Fatal(err)
	}

	v, err := client.Version(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if v != "1.2.3" {
		t.Errorf("erwartet 1.2.3, bekommen %s", v)
	}
}
