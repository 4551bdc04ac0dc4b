package gradtts

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ollama/gradtts/fs"
	"github.com/ollama/gradtts/fs/safetensors"
	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/model"
)

func newTestRand() *ml.Rand {
	return ml.NewRand(42)
}

func testOptions() Options {
	return Options{
		NFeats:   8,
		Dim:      8,
		DimMults: []int{1, 2},
		Groups:   2,
		Heads:    2,
		HeadDim:  4,
		BetaMin:  0.05,
		BetaMax:  20,
		PEScale:  1000,
	}
}

// testModel returns a small decoder whose attention gates are open so the
// attention path contributes to every output.
func testModel(t *testing.T) *Model {
	t.Helper()

	m, err := New(testOptions(), newTestRand())
	if err != nil {
		t.Fatal(err)
	}

	e := m.Estimator
	for _, level := range e.Downs {
		level.Attn.G = ml.Full(0.5, 1)
	}
	for _, level := range e.Ups {
		level.Attn.G = ml.Full(0.5, 1)
	}
	e.MidAttn.G = ml.Full(0.5, 1)

	return m
}

func TestOptionsValidate(t *testing.T) {
	cases := map[string]func(*Options){
		"n_feats":   func(o *Options) { o.NFeats = 0 },
		"odd dim":   func(o *Options) { o.Dim = 7 },
		"no mults":  func(o *Options) { o.DimMults = nil },
		"mult":      func(o *Options) { o.DimMults = []int{2, 4} },
		"groups":    func(o *Options) { o.Groups = 3 },
		"heads":     func(o *Options) { o.Heads = 0 },
		"schedule":  func(o *Options) { o.BetaMax = 0.01 },
		"zero mult": func(o *Options) { o.DimMults = []int{1, 0} },
	}

	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("Standardoptionen ungueltig: %v", err)
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := DefaultOptions()
			mutate(&o)
			if err := o.Validate(); !errors.Is(err, ErrInvariantViolation) {
				t.Errorf("erwartet ErrInvariantViolation, bekommen %v", err)
			}
		})
	}
}

func TestOptionsKV(t *testing.T) {
	want := testOptions()
	got := optionsFromConfig(want.KV())
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}

	if got := optionsFromConfig(fs.KV{"general.architecture": architecture}); !slices.Equal(got.DimMults, []int{1, 2, 4}) {
		t.Errorf("Standardwerte erwartet, bekommen %v", got.DimMults)
	}
}

func TestNewParameterNames(t *testing.T) {
	m, err := New(testOptions(), newTestRand())
	if err != nil {
		t.Fatal(err)
	}

	s := m.Backend().(*ml.Store)
	for _, name := range []string{
		"estimator.time_mlp.0.weight",
		"estimator.time_mlp.1.bias",
		"estimator.downs.0.resnet1.mlp.weight",
		"estimator.downs.0.resnet1.block1.conv.weight",
		"estimator.downs.0.resnet1.block2.norm.bias",
		"estimator.downs.0.resnet1.res_conv.weight",
		"estimator.downs.0.attn.to_qkv.weight",
		"estimator.downs.0.attn.to_out.bias",
		"estimator.downs.0.attn.g",
		"estimator.downs.0.down.weight",
		"estimator.mid_block1.block1.conv.weight",
		"estimator.mid_attn.g",
		"estimator.ups.0.resnet1.res_conv.weight",
		"estimator.ups.0.up.weight",
		"estimator.final_block.conv.weight",
		"estimator.final_conv.weight",
	} {
		if s.Get(name) == nil {
			t.Errorf("%s fehlt", name)
		}
	}

	for _, name := range []string{
		"estimator.downs.0.resnet2.res_conv.weight",
		"estimator.downs.1.down.weight",
		"estimator.downs.0.attn.to_qkv.bias",
	} {
		if s.Get(name) != nil {
			t.Errorf("%s sollte nicht existieren", name)
		}
	}

	if s.Get("estimator.mid_attn.g").Item() != 0 {
		t.Error("Rezero-Gate sollte mit 0 starten")
	}

	if got := s.Get("estimator.ups.0.up.weight").Shape(); !slices.Equal(got, []int{8, 8, 4, 4}) {
		t.Errorf("ups.0.up.weight shape %v", got)
	}

	if s.Config().Architecture() != architecture {
		t.Errorf("Architektur %q", s.Config().Architecture())
	}
}

func TestSaveLoad(t *testing.T) {
	m, err := New(testOptions(), newTestRand())
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "decoder.safetensors")
	s := m.Backend().(*ml.Store)
	if err := safetensors.WriteFile(path, s, s.KV(), ml.DTypeF64); err != nil {
		t.Fatal(err)
	}

	loaded, err := model.New(path)
	if err != nil {
		t.Fatal(err)
	}

	lm, ok := loaded.(*Model)
	if !ok {
		t.Fatalf("falscher Modelltyp %T", loaded)
	}

	if diff := cmp.Diff(m.Options(), lm.Options()); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}

	r := newTestRand()
	x, mu := r.Normal(2, 8, 8), r.Normal(2, 8, 8)
	mask := ml.Ones(2, 1, 8)
	ts := []float64{0.3, 0.7}

	want := m.Estimator.Forward(x, mask, mu, ts)
	got := lm.Estimator.Forward(x, mask, mu, ts)
	if diff := cmp.Diff(want.Data(), got.Data()); diff != "" {
		t.Errorf("geladenes Modell rechnet anders (-want +got):\n%s", diff)
	}
}

func TestLoadMissingTensor(t *testing.T) {
	m, err := New(testOptions(), newTestRand())
	if err != nil {
		t.Fatal(err)
	}

	src := m.Backend().(*ml.Store)
	s := ml.NewStore(src.KV())
	for _, name := range src.Names() {
		if name != "estimator.ups.0.up.weight" {
			s.Set(name, src.Get(name))
		}
	}

	if _, err := model.FromBackend(s); !errors.Is(err, model.ErrMissingTensor) {
		t.Errorf("erwartet ErrMissingTensor, bekommen %v", err)
	}
}
