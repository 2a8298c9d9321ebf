package frames

// Metadata keys.
const (
	MetaStreamID    = "stream_id"
	MetaParticipant = "participant"
	MetaRoom        = "room"
	MetaSessionID   = "session_id"
	MetaSource      = "source"
	MetaIsFinal     = "is_final"
	MetaConfidence  = "confidence"
	MetaStartMs     = "start_ms"
	MetaEndMs       = "end_ms"
	MetaReason      = "reason"
	MetaError       = "error"
)
