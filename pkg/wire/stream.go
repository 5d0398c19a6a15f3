package wire

// Status tags the stage a streamed turn update belongs to.
type Status string

const (
	StatusTranscribing   Status = "transcribing"
	StatusTranscribed    Status = "transcribed"
	StatusInterpreting   Status = "interpreting"
	StatusPlayerMoved    Status = "player_moved"
	StatusEngineThinking Status = "engine_thinking"
	StatusComplete       Status = "complete"
	StatusError          Status = "error"
)

// Statuses returns every status in stage order. The terminal statuses
// (complete, error) come last.
func Statuses() []Status {
	return []Status{
		StatusTranscribing,
		StatusTranscribed,
		StatusInterpreting,
		StatusPlayerMoved,
		StatusEngineThinking,
		StatusComplete,
		StatusError,
	}
}

// StreamUpdate is one transient progress event pushed to the client while a
// turn is in flight. All payload fields are optional; which ones are set
// depends on Status. For any one turn the observed statuses form an in-order
// subsequence of the stage order.
type StreamUpdate struct {
	Status     Status      `json:"status,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	Move       *MoveResult `json:"move,omitempty"`
	UserMove   *MoveResult `json:"user_move,omitempty"`
	EngineMove *MoveResult `json:"engine_move,omitempty"`
	FEN        string      `json:"fen,omitempty"`
	State      string      `json:"state,omitempty"`
	Code       string      `json:"code,omitempty"`
	Error      string      `json:"error,omitempty"`
}
