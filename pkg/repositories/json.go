package repositories

import (
	"encoding/json"
	"fmt"
)

func unmarshalJSON(data []byte, target any) error {
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal jsonb column: %w", err)
	}
	return nil
}
