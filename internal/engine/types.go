package engine

// Message is a chat message. Images holds raw JPEG stills for vision models.
type Message struct {
	Role    string
	Content string
	Images  [][]byte
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
