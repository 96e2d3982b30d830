package rtsa

// ConnectionHandle identifies a connection inside the transport engine.
// It is assigned once by CreateConnection and never reused by a Session.
type ConnectionHandle uint32

// Status is the raw result code of an engine call. Zero means success;
// engines report their own non-zero codes.
type Status int32

// Status codes produced by the Go engines in this package. The native
// engine passes SDK codes through unchanged.
const (
	StatusOK            Status = 0
	StatusFailed        Status = -1
	StatusNotSupported  Status = -2
	StatusInvalidHandle Status = -3
	StatusInvalidState  Status = -4
)

// ServiceOptions configures the one-time engine bootstrap.
type ServiceOptions struct {
	AreaCode   uint32 // Region mask, AreaGlobal for all regions
	ProductID  string // Device or product identifier reported to the service
	LogDisable bool
	LogLevel   int
	LogPath    string
	LogSize    int // bytes, 0 = engine default
}

// AreaGlobal selects every service region.
const AreaGlobal uint32 = 0xFFFFFFFF

// ChannelOptions are per-join options. A nil *ChannelOptions asks the
// engine for its defaults.
type ChannelOptions struct {
	AutoSubscribeAudio      bool
	AutoSubscribeVideo      bool
	SubscribeLocalUser      bool
	EnableAudioJitterBuffer bool
	EnableAudioMixer        bool
	AudioCodec              int
	AudioJitterFrames       int
}

// EventSink receives asynchronous notifications from an engine.
// Dispatch is called on the engine's notification goroutine or thread and
// must not block.
type EventSink interface {
	Dispatch(ev SessionEvent)
}

// Engine is the real-time transport consumed by the bridge.
//
// Join completion is asynchronous: JoinChannel only starts the join and
// the outcome arrives as a JoinSuccess (or RejoinSuccess) event on the
// sink registered with Bootstrap. SendVideoFrame must not retain payload
// after it returns.
type Engine interface {
	Bootstrap(appID string, opts ServiceOptions, sink EventSink) Status
	CreateConnection() (ConnectionHandle, Status)
	JoinChannel(h ConnectionHandle, channel string, userID uint32, token string, opts *ChannelOptions) Status
	LeaveChannel(h ConnectionHandle) Status
	SendVideoFrame(h ConnectionHandle, payload []byte, desc FrameDescriptor) Status
	DestroyConnection(h ConnectionHandle) Status
	Shutdown() Status
}
