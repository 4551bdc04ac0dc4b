package convert

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"

	ofs "github.com/ollama/gradtts/fs"
	"github.com/ollama/gradtts/ml"
)

// Grad-TTS defaults for values that cannot be read off the weights.
const (
	defaultNFeats  = 80
	defaultGroups  = 8
	defaultHeadDim = 32
	defaultBetaMin = 0.05
	defaultBetaMax = 20
	defaultPEScale = 1000
)

type gradttsModel struct{}

var _ ModelConverter = (*gradttsModel)(nil)

type replacement struct {
	re   *regexp.Regexp
	repl string
}

// gradttsReplacements rewrite PyTorch module paths into native parameter
// names. Order matters: block positions are resolved before the generic
// sub-module rules.
var gradttsReplacements = []replacement{
	{regexp.MustCompile(`^estimator\.mlp\.0\.`), "estimator.time_mlp.0."},
	{regexp.MustCompile(`^estimator\.mlp\.2\.`), "estimator.time_mlp.1."},
	{regexp.MustCompile(`\.(downs|ups)\.(\d+)\.0\.`), ".$1.$2.resnet1."},
	{regexp.MustCompile(`\.(downs|ups)\.(\d+)\.1\.`), ".$1.$2.resnet2."},
	{regexp.MustCompile(`\.(downs|ups)\.(\d+)\.2\.fn\.fn\.`), ".$1.$2.attn."},
	{regexp.MustCompile(`\.(downs|ups)\.(\d+)\.2\.fn\.g$`), ".$1.$2.attn.g"},
	{regexp.MustCompile(`\.downs\.(\d+)\.3\.conv\.`), ".downs.$1.down."},
	{regexp.MustCompile(`\.ups\.(\d+)\.3\.conv\.`), ".ups.$1.up."},
	{regexp.MustCompile(`\.mid_attn\.fn\.fn\.`), ".mid_attn."},
	{regexp.MustCompile(`\.mid_attn\.fn\.g$`), ".mid_attn.g"},
	{regexp.MustCompile(`\.mlp\.1\.`), ".mlp."},
	{regexp.MustCompile(`\.block\.0\.`), ".conv."},
	{regexp.MustCompile(`\.block\.1\.`), ".norm."},
}

// Rename keeps decoder estimator weights only. Full Grad-TTS checkpoints
// prefix them with "decoder."; encoder weights are skipped.
func (m *gradttsModel) Rename(name string) (string, bool) {
	name = strings.TrimPrefix(name, "module.")
	name = strings.TrimPrefix(name, "decoder.")
	if !strings.HasPrefix(name, "estimator.") {
		return "", false
	}

	for _, r := range gradttsReplacements {
		name = r.re.ReplaceAllString(name, r.repl)
	}

	return name, true
}

// Repack converts transposed-convolution kernels from [in, out, kh, kw] to
// [out, in, kh, kw].
func (m *gradttsModel) Repack(t Tensor) (Tensor, error) {
	if !strings.HasSuffix(t.Name, ".up.weight") {
		return t, nil
	}

	dims := t.Shape()
	if len(dims) != 4 {
		return t, fmt.Errorf("expected rank 4 kernel, got %v", dims)
	}

	var tt tensor.Tensor = tensor.New(tensor.WithShape(dims...), tensor.WithBacking(append([]float64(nil), t.Data()...)))
	tt, err := tensor.Transpose(tt, 1, 0, 2, 3)
	if err != nil {
		return t, err
	}

	// flatten tensor so it can be read as a vector
	if err := tt.Reshape(tt.Shape().TotalSize()); err != nil {
		return t, err
	}

	data, err := native.VectorF64(tt.(*tensor.Dense))
	if err != nil {
		return t, err
	}

	return Tensor{Name: t.Name, Tensor: ml.New(data, dims[1], dims[0], dims[2], dims[3])}, nil
}

// KV derives the architecture hyperparameters from tensor shapes.
func (m *gradttsModel) KV(s *ml.Store) ofs.KV {
	kv := ofs.KV{"general.architecture": "gradtts"}
	kv.SetUint("n_feats", defaultNFeats)
	kv.SetUint("groups", defaultGroups)
	kv.SetUint("attention.head_dim", defaultHeadDim)
	kv.SetFloat("beta_min", defaultBetaMin)
	kv.SetFloat("beta_max", defaultBetaMax)
	kv.SetFloat("pe_scale", defaultPEScale)

	out := s.Get("estimator.time_mlp.1.weight")
	if out == nil {
		return kv
	}

	dim := out.Dim(0)
	kv.SetUint("dim", uint32(dim))

	var mults []uint32
	for i := 0; ; i++ {
		w := s.Get(fmt.Sprintf("estimator.downs.%d.resnet1.block1.conv.weight", i))
		if w == nil {
			break
		}
		mults = append(mults, uint32(w.Dim(0)/dim))
	}

	if len(mults) > 0 {
		kv.SetUints("dim_mults", mults)
	}

	if qkv := s.Get("estimator.downs.0.attn.to_qkv.weight"); qkv != nil {
		kv.SetUint("attention.heads", uint32(qkv.Dim(0)/(3*defaultHeadDim)))
	}

	return kv
}
