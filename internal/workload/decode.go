package workload

import "github.com/mitchellh/mapstructure"

// decode applies cfg on top of out's zero-value defaults, the same
// mapstructure-based pattern internal/config uses for the opaque
// workload.config block.
func decode(cfg map[string]interface{}, out interface{}) error {
	if cfg == nil {
		return nil
	}

	return mapstructure.Decode(cfg, out)
}
