package registry

import (
	"upscaled/pkg/types"
)

// ArchParams are the RRDBNet construction parameters for one network
// configuration. They are carried alongside the weight URL so an engine can
// be built from the record alone.
type ArchParams struct {
	NumInCh   int
	NumOutCh  int
	NumFeat   int
	NumBlock  int
	NumGrowCh int
	Scale     int
}

// ModelConfig is one entry of the closed model set: identifier, display
// name, versioned weight artifact URL and architecture record.
type ModelConfig struct {
	ID   string
	Name string
	URL  string
	Arch ArchParams
}

// Scale returns the fixed upsample factor of the network.
func (c ModelConfig) Scale() int { return c.Arch.Scale }

// The three supported networks. The set is fixed at process start; there is
// deliberately no way to register additional entries at runtime.
var builtin = []ModelConfig{
	{
		ID:   "RealESRGAN_x4plus",
		Name: "Real-ESRGAN x4plus (general)",
		URL:  "https://huggingface.co/spaces/mahinigam/4xl-api/resolve/main/models/RealESRGAN_x4plus.onnx",
		Arch: ArchParams{NumInCh: 3, NumOutCh: 3, NumFeat: 64, NumBlock: 23, NumGrowCh: 32, Scale: 4},
	},
	{
		ID:   "RealESRNet_x4plus",
		Name: "Real-ESRNet x4plus (smooth)",
		URL:  "https://huggingface.co/spaces/mahinigam/4xl-api/resolve/main/models/RealESRNet_x4plus.onnx",
		Arch: ArchParams{NumInCh: 3, NumOutCh: 3, NumFeat: 64, NumBlock: 23, NumGrowCh: 32, Scale: 4},
	},
	{
		ID:   "RealESRGAN_x4plus_anime_6B",
		Name: "Real-ESRGAN x4plus anime (6 blocks)",
		URL:  "https://huggingface.co/spaces/mahinigam/4xl-api/resolve/main/models/RealESRGAN_x4plus_anime_6B.onnx",
		Arch: ArchParams{NumInCh: 3, NumOutCh: 3, NumFeat: 64, NumBlock: 6, NumGrowCh: 32, Scale: 4},
	},
}

// Builtin returns a copy of the model set.
func Builtin() []ModelConfig {
	out := make([]ModelConfig, len(builtin))
	copy(out, builtin)
	return out
}

// Lookup resolves a model id to its configuration.
func Lookup(id string) (ModelConfig, bool) {
	for _, c := range builtin {
		if c.ID == id {
			return c, true
		}
	}
	return ModelConfig{}, false
}

// IDs lists the model identifiers in declaration order.
func IDs() []string {
	out := make([]string, 0, len(builtin))
	for _, c := range builtin {
		out = append(out, c.ID)
	}
	return out
}

// Models projects the set into API types for GET /models.
func Models() []types.Model {
	out := make([]types.Model, 0, len(builtin))
	for _, c := range builtin {
		out = append(out, types.Model{ID: c.ID, Name: c.Name, Scale: c.Arch.Scale})
	}
	return out
}
