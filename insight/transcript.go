package insight

// Turn is one question and its answer. Exactly one of Answer and Image is
// meaningful: Image holds a data URI when the question produced a chart.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
	Image    string `json:"image,omitempty"`
}

// Label is the question as displayed above the answer.
func (t Turn) Label() string {
	return "Q: " + t.Question
}

// IsImage reports whether the turn carries a chart.
func (t Turn) IsImage() bool {
	return t.Image != ""
}

// Transcript is the ordered log of turns shown in the output panel.
type Transcript []Turn

// Append returns a new transcript with turn added. t is never modified.
func (t Transcript) Append(turn Turn) Transcript {
	out := make(Transcript, len(t), len(t)+1)
	copy(out, t)
	return append(out, turn)
}
