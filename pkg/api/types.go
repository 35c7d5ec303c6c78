package api

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PutRequest addresses one singv record by its full dkey/akey/epoch path.
type PutRequest struct {
	Container  string `json:"container"`
	Object     string `json:"object"`
	Dkey       string `json:"dkey"`
	DkeyEpoch  uint64 `json:"dkey_epoch"`
	Akey       string `json:"akey"`
	AkeyEpoch  uint64 `json:"akey_epoch"`
	ValueEpoch uint64 `json:"value_epoch"`
	Value      []byte `json:"value"`
}

// RelationshipRequest represents a relationship creation/deletion request
type RelationshipRequest struct {
	Container string `json:"container"`
	FromKey   string `json:"from_key"`
	ToKey     string `json:"to_key"`
	Relation  string `json:"relation"`
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Port   int
	APIKey string
}
