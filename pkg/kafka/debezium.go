package kafka

import (
	"bytes"
	"encoding/json"
)

// ResourcesTable is the table whose CDC deletes are treated as resource deletions
const ResourcesTable = "mdm_resources"

// DebeziumEnvelope is the standard Debezium CDC message format
type DebeziumEnvelope struct {
	Schema  json.RawMessage `json:"schema,omitempty"`
	Payload DebeziumPayload `json:"payload"`
}

// DebeziumPayload contains the before/after state of a row
type DebeziumPayload struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Source DebeziumSource  `json:"source"`
	Op     string          `json:"op"` // c=create, u=update, d=delete, r=read (snapshot)
	TsMs   int64           `json:"ts_ms"`
}

// DebeziumSource contains metadata about the source of the change
type DebeziumSource struct {
	Connector string `json:"connector"`
	Name      string `json:"name"`
	Db        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
}

// IsDelete returns true if this is a delete operation
func (p *DebeziumPayload) IsDelete() bool {
	return p.Op == "d"
}

// ResourceRow is the subset of an mdm_resources row the consumer needs
type ResourceRow struct {
	ID           string `json:"id"`
	ResourceType string `json:"resource_type"`
	MDMManaged   bool   `json:"mdm_managed"`
}

func isDebezium(value []byte) bool {
	return bytes.Contains(value, []byte(`"payload"`)) && bytes.Contains(value, []byte(`"op"`))
}

// parseDebeziumDeletion turns a delete of a non-golden resources row into a ResourceDeletedMessage.
// Creates, updates, other tables and golden rows are unsupported.
func parseDebeziumDeletion(value []byte) (*ResourceDeletedMessage, error) {
	var envelope DebeziumEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return nil, err
	}

	payload := envelope.Payload
	if !payload.IsDelete() || payload.Source.Table != ResourcesTable || len(payload.Before) == 0 {
		return nil, ErrUnsupportedMessage
	}

	var row ResourceRow
	if err := json.Unmarshal(payload.Before, &row); err != nil {
		return nil, err
	}
	if row.ID == "" || row.MDMManaged {
		return nil, ErrUnsupportedMessage
	}

	return &ResourceDeletedMessage{
		EventType:    EventTypeResourceDeleted,
		ResourceID:   row.ID,
		ResourceType: row.ResourceType,
	}, nil
}
