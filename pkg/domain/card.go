package domain

// CardPayload is an opaque render request handed to the boundary. The
// engine never inspects Document; it is rendered (or not) by whatever host
// consumes the card-ready event.
type CardPayload struct {
	ID         string         `json:"id"`
	RenderMode string         `json:"render_mode"`
	Document   map[string]any `json:"document"`
}
