package domain

// Envelope is the canonical message shape posted to the backend.
type Envelope struct {
	From      string       `json:"from"`
	Type      MessageKind  `json:"type"`
	Timestamp int64        `json:"timestamp"`
	ID        string       `json:"id"`
	Text      string       `json:"text,omitempty"`
	Document  *DocumentRef `json:"document,omitempty"`
}

// DocumentRef points at an attachment persisted on disk.
type DocumentRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mimeType"`
	Filename string `json:"filename"`
	FilePath string `json:"filePath"`
	Size     int64  `json:"size"`
}
