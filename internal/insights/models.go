package insights

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	TargetServer string        `json:"target_server"`
	Messages     []chatMessage `json:"messages"`
	MaxTokens    int           `json:"max_tokens"`
	Temperature  float64       `json:"temperature"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

// chatResponse accepts both the OpenAI-style choices envelope and the flat
// content shape some providers return.
type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Content string       `json:"content"`
}

func (r *chatResponse) text() string {
	if len(r.Choices) > 0 && r.Choices[0].Message.Content != "" {
		return r.Choices[0].Message.Content
	}
	return r.Content
}
