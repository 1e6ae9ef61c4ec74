package frames

// Meta keys attached to frames as they move between engines.
const (
	MetaSessionID = "session_id"
	MetaTurnID    = "turn_id"
	MetaSource    = "source"
	MetaReason    = "reason"
	MetaIsFinal   = "is_final"
	MetaLanguage  = "language"
	MetaProvider  = "provider"
	MetaVoice     = "voice"
	MetaEncoding  = "encoding"
)
