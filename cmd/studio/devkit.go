package main

import (
	"fmt"

	"github.com/systemsculpt/studio/pkg/registry"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

// newDevRegistry returns a Registry carrying the small set of
// deterministic node kinds this harness can execute on its own, without a
// host-supplied catalogue: studio.value, studio.passthrough,
// studio.asset_store and studio.secret_lookup.
// Real node kinds (text/image generation, transcription, media ingest,
// CLI tooling) are out of scope for the engine itself per spec.md §1 and
// are registered by whatever application embeds pkg/facade.
func newDevRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register(studiotypes.NodeDefinition{
		Kind:        "studio.value",
		Version:     1,
		Capability:  studiotypes.CapabilityLocalCPU,
		CachePolicy: studiotypes.CachePolicyByInputs,
		Outputs:     []studiotypes.Port{{ID: "value", Type: "any"}},
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			return map[string]interface{}{"value": ctx.Node.Config["__studio_seed_value"]}, nil
		},
	})
	reg.Register(studiotypes.NodeDefinition{
		Kind:       "studio.passthrough",
		Version:    1,
		Capability: studiotypes.CapabilityLocalCPU,
		Inputs:     []studiotypes.Port{{ID: "in", Type: "any", Required: true}},
		Outputs:    []studiotypes.Port{{ID: "out", Type: "any"}},
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			return map[string]interface{}{"out": ctx.Inputs["in"]}, nil
		},
	})
	reg.Register(studiotypes.NodeDefinition{
		Kind:        "studio.asset_store",
		Version:     1,
		Capability:  studiotypes.CapabilityLocalIO,
		CachePolicy: studiotypes.CachePolicyByInputs,
		Inputs:      []studiotypes.Port{{ID: "bytes", Type: "any", Required: true}},
		Outputs:     []studiotypes.Port{{ID: "asset", Type: "asset"}},
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			var payload []byte
			switch v := ctx.Inputs["bytes"].(type) {
			case []byte:
				payload = v
			case string:
				payload = []byte(v)
			default:
				payload = []byte(fmt.Sprintf("%v", v))
			}
			mime, _ := ctx.Node.Config["mime"].(string)
			if mime == "" {
				mime = "application/octet-stream"
			}
			ref, err := ctx.Services.Assets.Store(payload, mime)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"asset": ref}, nil
		},
	})
	reg.Register(studiotypes.NodeDefinition{
		Kind:        "studio.secret_lookup",
		Version:     1,
		Capability:  studiotypes.CapabilityLocalCPU,
		CachePolicy: studiotypes.CachePolicyNever,
		Outputs:     []studiotypes.Port{{ID: "value", Type: "any"}},
		Execute: func(ctx studiotypes.ExecContext) (map[string]interface{}, error) {
			ref, _ := ctx.Node.Config["ref"].(string)
			if !ctx.Services.Secrets.IsAvailable() {
				return map[string]interface{}{"value": nil}, nil
			}
			value, err := ctx.Services.Secrets.GetSecret(ref)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"value": value}, nil
		},
	})
	return reg
}
