package models

import "fmt"

// Metadata is the open key-value bag attached to entities. Values are
// restricted to the JSON value kinds (string, number, bool, nested
// map/array) so serialization stays deterministic.
type Metadata map[string]any

// Validate rejects values outside the allowed kind set.
func (m Metadata) Validate() error {
	for key, value := range m {
		if err := validateMetadataValue(value); err != nil {
			return fmt.Errorf("metadata key %q: %w", key, err)
		}
	}
	return nil
}

func validateMetadataValue(value any) error {
	switch v := value.(type) {
	case nil, string, bool, float64, int, int64:
		return nil
	case map[string]any:
		return Metadata(v).Validate()
	case []any:
		for _, item := range v {
			if err := validateMetadataValue(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported value type %T", value)
	}
}
