package config

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"yqhp/load-engine/pkg/types"
)

// deserialize(serialize(config)) == config
func TestConfigRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("config round-trip preserves data", prop.ForAll(
		func(stages []types.Stage, timeoutMs int, iterations int, abort bool) bool {
			cfg := DefaultConfig()
			cfg.Stages = stages
			cfg.RequestTimeout = time.Duration(timeoutMs) * time.Millisecond
			cfg.MaxIterations = iterations
			cfg.Thresholds = map[string][]types.ThresholdDecl{
				"http_req_duration": {{Expression: "p(95)<500", AbortOnFail: abort}},
			}

			data, err := cfg.Serialize()
			if err != nil {
				return false
			}
			parsed, err := ParseConfig(data)
			if err != nil {
				return false
			}
			return assert.ObjectsAreEqual(cfg, parsed)
		},
		gen.SliceOfN(3, genStage()),
		gen.IntRange(1, 60000),
		gen.IntRange(0, 100),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func genStage() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 3600),
		gen.IntRange(0, 500),
	).Map(func(vals []interface{}) types.Stage {
		return types.Stage{
			Duration: time.Duration(vals[0].(int)) * time.Second,
			Target:   vals[1].(int),
		}
	})
}
