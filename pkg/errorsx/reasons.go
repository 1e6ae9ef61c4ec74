package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonMicPermission ReasonCode = "mic_permission"

	ReasonSTTToken    ReasonCode = "stt_token"
	ReasonSTTConnect  ReasonCode = "stt_connect"
	ReasonSTTSend     ReasonCode = "stt_send"
	ReasonSTTFallback ReasonCode = "stt_fallback"

	ReasonChatStream ReasonCode = "chat_stream"
	ReasonChatFrame  ReasonCode = "chat_frame"

	ReasonTTSSynth    ReasonCode = "tts_synth"
	ReasonTTSStream   ReasonCode = "tts_stream"
	ReasonTTSSilence  ReasonCode = "tts_silence"
	ReasonAudioDecode ReasonCode = "audio_decode"
	ReasonAudioDevice ReasonCode = "audio_device"

	ReasonWakeInit ReasonCode = "wake_init"
)
