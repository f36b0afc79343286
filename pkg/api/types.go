package api

// UpsertHandlerRequest creates or replaces a handler.
type UpsertHandlerRequest struct {
	Address string `json:"address"`
	APIKey  string `json:"api_key"`
	Code    string `json:"code"`

	// URI is the older name for Address, still sent by existing clients.
	URI string `json:"uri,omitempty"`
}

// FindHandlerRequest asks for the source of an owned handler.
type FindHandlerRequest struct {
	Address string `json:"address"`
	APIKey  string `json:"api_key"`

	// URI is the older name for Address.
	URI string `json:"uri,omitempty"`
}

// FindHandlerResponse is the JSON data of a successful find.
type FindHandlerResponse struct {
	Code string `json:"code"`
}

// APIKeyRequest carries only a credential (verify_key, list_handlers).
type APIKeyRequest struct {
	APIKey string `json:"api_key"`
}
