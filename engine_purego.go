//go:build darwin || linux

package rtsa

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	nativeOnce    sync.Once
	nativeHandle  uintptr
	nativeInitErr error
)

// libagora-rtc-sdk function pointers
var (
	nativeInit              func(appID *byte, handler *nativeEventHandler, opts *nativeServiceOption) int32
	nativeFini              func() int32
	nativeCreateConnection  func(connID *uint32) int32
	nativeDestroyConnection func(connID uint32) int32
	nativeJoinChannel       func(connID uint32, channel *byte, uid uint32, token *byte, opts *nativeChannelOptions) int32
	nativeLeaveChannel      func(connID uint32) int32
	nativeSendVideoData     func(connID uint32, data unsafe.Pointer, length uintptr, info *nativeVideoFrameInfo) int32
)

// Constants from agora_rtc_api.h
const (
	nativeDataTypeH264        = 2
	nativeDataTypeH265        = 3
	nativeDataTypeGeneric     = 6
	nativeDataTypeGenericJPEG = 20

	nativeFrameAutoDetect = 0
	nativeFrameKey        = 3
	nativeFrameDelta      = 4

	nativeStreamHigh = 0
	nativeStreamLow  = 1
)

// nativeVideoFrameInfo mirrors video_frame_info_t.
type nativeVideoFrameInfo struct {
	DataType   int32
	StreamType int32
	FrameType  int32
	FrameRate  uint16
	Rotation   int32
}

// nativeServiceOption mirrors rtc_service_option_t.
type nativeServiceOption struct {
	AreaCode   uint32
	ProductID  *byte
	LogDisable int32
	LogLevel   int32
	LogPath    *byte
	LogSize    int32
}

// nativeChannelOptions mirrors rtc_channel_options_t.
type nativeChannelOptions struct {
	AutoSubscribeAudio      int32
	AutoSubscribeVideo      int32
	SubscribeLocalUser      int32
	EnableAudioJitterBuffer int32
	EnableAudioMixer        int32
	AudioCodecType          int32
	AudioJitterFrameNum     int32
}

// nativeEventHandler mirrors agora_rtc_event_handler_t. Unused slots stay
// zero (NULL).
type nativeEventHandler struct {
	OnJoinChannelSuccess       uintptr
	OnReconnecting             uintptr
	OnConnectionLost           uintptr
	OnRejoinChannelSuccess     uintptr
	OnLicenseValidationFailure uintptr
	OnError                    uintptr
	OnUserJoined               uintptr
	OnUserOffline              uintptr
	OnUserMuteAudio            uintptr
	OnUserMuteVideo            uintptr
	OnAudioData                uintptr
	OnMixedAudioData           uintptr
	OnVideoData                uintptr
	OnTargetBitrateChanged     uintptr
	OnKeyFrameGenReq           uintptr
	OnTokenPrivilegeWillExpire uintptr
	OnMediaCtrlMsg             uintptr
	OnRDTState                 uintptr
	OnRDTMsg                   uintptr
}

// The SDK engine is process-wide. The handler table and the sink it feeds
// live for the whole process once bootstrapped.
var (
	nativeClaimed     atomic.Bool
	nativeSink        atomic.Pointer[sinkRef]
	nativeHandlerOnce sync.Once
	nativeHandlers    *nativeEventHandler
)

type sinkRef struct{ sink EventSink }

func loadNativeSDK() error {
	nativeOnce.Do(func() {
		nativeInitErr = loadNativeSDKLib()
	})
	return nativeInitErr
}

func loadNativeSDKLib() error {
	var lastErr error
	for _, path := range nativeSDKLibPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		nativeHandle = handle
		if err := loadNativeSymbols(); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libagora-rtc-sdk: %w", lastErr)
	}
	return errors.New("libagora-rtc-sdk not found in any standard location")
}

func nativeSDKLibPaths() []string {
	var paths []string

	libName := "libagora-rtc-sdk.so"
	if runtime.GOOS == "darwin" {
		libName = "libagora-rtc-sdk.dylib"
	}

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv("RTSA_SDK_LIB"); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("RTSA_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	// Search relative to module root (find go.mod from cwd)
	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		paths = append(paths,
			filepath.Join(moduleRoot, "agora-sdk", libName),
			filepath.Join(moduleRoot, "agora-sdk", "lib", libName),
		)
	}

	// System paths (lowest priority)
	paths = append(paths, libName, filepath.Join("/usr/local/lib", libName))
	if runtime.GOOS == "linux" {
		paths = append(paths, filepath.Join("/usr/lib", libName))
	}
	return paths
}

func loadNativeSymbols() (err error) {
	// RegisterLibFunc panics on a missing symbol.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("libagora-rtc-sdk: %v", r)
		}
	}()

	purego.RegisterLibFunc(&nativeInit, nativeHandle, "agora_rtc_init")
	purego.RegisterLibFunc(&nativeFini, nativeHandle, "agora_rtc_fini")
	purego.RegisterLibFunc(&nativeCreateConnection, nativeHandle, "agora_rtc_create_connection")
	purego.RegisterLibFunc(&nativeDestroyConnection, nativeHandle, "agora_rtc_destroy_connection")
	purego.RegisterLibFunc(&nativeJoinChannel, nativeHandle, "agora_rtc_join_channel")
	purego.RegisterLibFunc(&nativeLeaveChannel, nativeHandle, "agora_rtc_leave_channel")
	purego.RegisterLibFunc(&nativeSendVideoData, nativeHandle, "agora_rtc_send_video_data")
	return nil
}

// IsNativeSDKAvailable checks if libagora-rtc-sdk can be loaded.
func IsNativeSDKAvailable() bool {
	return loadNativeSDK() == nil
}

// initNativeHandlers builds the callback table once. purego callbacks are
// never freed, so the table is shared by every bootstrap attempt.
func initNativeHandlers() *nativeEventHandler {
	nativeHandlerOnce.Do(func() {
		nativeHandlers = &nativeEventHandler{
			OnJoinChannelSuccess:       purego.NewCallback(onNativeJoinChannelSuccess),
			OnReconnecting:             purego.NewCallback(onNativeReconnecting),
			OnConnectionLost:           purego.NewCallback(onNativeConnectionLost),
			OnRejoinChannelSuccess:     purego.NewCallback(onNativeRejoinChannelSuccess),
			OnLicenseValidationFailure: purego.NewCallback(onNativeLicenseFailure),
			OnError:                    purego.NewCallback(onNativeError),
			OnUserJoined:               purego.NewCallback(onNativeUserJoined),
			OnUserOffline:              purego.NewCallback(onNativeUserOffline),
			OnUserMuteAudio:            purego.NewCallback(onNativeUserMuteAudio),
			OnUserMuteVideo:            purego.NewCallback(onNativeUserMuteVideo),
			OnTargetBitrateChanged:     purego.NewCallback(onNativeTargetBitrate),
			OnKeyFrameGenReq:           purego.NewCallback(onNativeKeyFrameGenReq),
			OnTokenPrivilegeWillExpire: purego.NewCallback(onNativeTokenWillExpire),
		}
	})
	return nativeHandlers
}

// Callbacks take uintptr arguments and truncate them; the SDK passes
// 32-bit values and the upper register bits are unspecified.

func nativeDispatch(ev SessionEvent) {
	if ref := nativeSink.Load(); ref != nil {
		ref.sink.Dispatch(ev)
	}
}

func onNativeJoinChannelSuccess(conn, uid, elapsedMs uintptr) {
	nativeDispatch(JoinSuccess{
		Handle:  ConnectionHandle(uint32(conn)),
		UserID:  uint32(uid),
		Elapsed: time.Duration(int32(elapsedMs)) * time.Millisecond,
	})
}

func onNativeReconnecting(conn uintptr) {
	nativeDispatch(Reconnecting{Handle: ConnectionHandle(uint32(conn))})
}

func onNativeConnectionLost(conn uintptr) {
	nativeDispatch(ConnectionLost{Handle: ConnectionHandle(uint32(conn))})
}

func onNativeRejoinChannelSuccess(conn, uid, elapsedMs uintptr) {
	nativeDispatch(RejoinSuccess{
		Handle:  ConnectionHandle(uint32(conn)),
		UserID:  uint32(uid),
		Elapsed: time.Duration(int32(elapsedMs)) * time.Millisecond,
	})
}

func onNativeLicenseFailure(conn, code uintptr) {
	nativeDispatch(LicenseValidationFailure{
		Handle: ConnectionHandle(uint32(conn)),
		Code:   int(int32(code)),
	})
}

func onNativeError(conn, code, msg uintptr) {
	nativeDispatch(GeneralError{
		Handle:  ConnectionHandle(uint32(conn)),
		Code:    int(int32(code)),
		Message: goStringFromPtr(msg),
	})
}

func onNativeUserJoined(conn, uid, elapsedMs uintptr) {
	nativeDispatch(PeerJoined{
		Handle:  ConnectionHandle(uint32(conn)),
		PeerID:  uint32(uid),
		Elapsed: time.Duration(int32(elapsedMs)) * time.Millisecond,
	})
}

func onNativeUserOffline(conn, uid, reason uintptr) {
	nativeDispatch(PeerLeft{
		Handle: ConnectionHandle(uint32(conn)),
		PeerID: uint32(uid),
		Reason: int(int32(reason)),
	})
}

func onNativeUserMuteAudio(conn, uid, muted uintptr) {
	nativeDispatch(PeerAudioMuted{
		Handle: ConnectionHandle(uint32(conn)),
		PeerID: uint32(uid),
		Muted:  int32(muted) != 0,
	})
}

func onNativeUserMuteVideo(conn, uid, muted uintptr) {
	nativeDispatch(PeerVideoMuted{
		Handle: ConnectionHandle(uint32(conn)),
		PeerID: uint32(uid),
		Muted:  int32(muted) != 0,
	})
}

func onNativeTargetBitrate(conn, bps uintptr) {
	nativeDispatch(TargetBitrateChanged{
		Handle:        ConnectionHandle(uint32(conn)),
		BitsPerSecond: uint32(bps),
	})
}

func onNativeKeyFrameGenReq(conn, uid, streamType uintptr) {
	tier := StreamTierHigh
	if int32(streamType) == nativeStreamLow {
		tier = StreamTierLow
	}
	nativeDispatch(KeyframeRequested{
		Handle: ConnectionHandle(uint32(conn)),
		PeerID: uint32(uid),
		Tier:   tier,
	})
}

func onNativeTokenWillExpire(conn, token uintptr) {
	nativeDispatch(TokenPrivilegeWillExpire{
		Handle: ConnectionHandle(uint32(conn)),
		Token:  goStringFromPtr(token),
	})
}

// NativeEngine implements Engine over the vendor RTSA SDK loaded with
// purego. Only one NativeEngine can be bootstrapped per process.
type NativeEngine struct {
	mu   sync.Mutex
	live bool
}

// NewNativeEngine loads the SDK library.
func NewNativeEngine() (*NativeEngine, error) {
	if err := loadNativeSDK(); err != nil {
		return nil, fmt.Errorf("native engine not available: %w", err)
	}
	return &NativeEngine{}, nil
}

// Bootstrap implements Engine.
func (e *NativeEngine) Bootstrap(appID string, opts ServiceOptions, sink EventSink) Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !nativeClaimed.CompareAndSwap(false, true) {
		return StatusInvalidState
	}

	nativeSink.Store(&sinkRef{sink: sink})
	handlers := initNativeHandlers()

	cAppID := cString(appID, false)
	cOpts := &nativeServiceOption{
		AreaCode:   opts.AreaCode,
		ProductID:  cString(opts.ProductID, true),
		LogDisable: boolToInt32(opts.LogDisable),
		LogLevel:   int32(opts.LogLevel),
		LogPath:    cString(opts.LogPath, true),
		LogSize:    int32(opts.LogSize),
	}

	st := Status(nativeInit(cAppID, handlers, cOpts))
	runtime.KeepAlive(cAppID)
	runtime.KeepAlive(cOpts)
	if st == StatusOK {
		e.live = true
	}
	return st
}

// CreateConnection implements Engine.
func (e *NativeEngine) CreateConnection() (ConnectionHandle, Status) {
	// Heap-allocated out parameter for the native call.
	connID := new(uint32)
	st := Status(nativeCreateConnection(connID))
	return ConnectionHandle(*connID), st
}

// JoinChannel implements Engine.
func (e *NativeEngine) JoinChannel(h ConnectionHandle, channel string, userID uint32, token string, opts *ChannelOptions) Status {
	cChannel := cString(channel, false)
	cToken := cString(token, true)

	var cOpts *nativeChannelOptions
	if opts != nil {
		cOpts = &nativeChannelOptions{
			AutoSubscribeAudio:      boolToInt32(opts.AutoSubscribeAudio),
			AutoSubscribeVideo:      boolToInt32(opts.AutoSubscribeVideo),
			SubscribeLocalUser:      boolToInt32(opts.SubscribeLocalUser),
			EnableAudioJitterBuffer: boolToInt32(opts.EnableAudioJitterBuffer),
			EnableAudioMixer:        boolToInt32(opts.EnableAudioMixer),
			AudioCodecType:          int32(opts.AudioCodec),
			AudioJitterFrameNum:     int32(opts.AudioJitterFrames),
		}
	}

	st := Status(nativeJoinChannel(uint32(h), cChannel, userID, cToken, cOpts))
	runtime.KeepAlive(cChannel)
	runtime.KeepAlive(cToken)
	runtime.KeepAlive(cOpts)
	return st
}

// LeaveChannel implements Engine.
func (e *NativeEngine) LeaveChannel(h ConnectionHandle) Status {
	return Status(nativeLeaveChannel(uint32(h)))
}

// SendVideoFrame implements Engine. The SDK copies the payload before
// returning.
func (e *NativeEngine) SendVideoFrame(h ConnectionHandle, payload []byte, desc FrameDescriptor) Status {
	if len(payload) == 0 {
		return StatusFailed
	}
	info := &nativeVideoFrameInfo{
		DataType:   nativeDataType(desc.Codec),
		StreamType: nativeStreamType(desc.Tier),
		FrameType:  nativeFrameType(desc.Kind),
		FrameRate:  desc.FrameRate,
		Rotation:   int32(desc.Rotation),
	}
	st := Status(nativeSendVideoData(uint32(h), unsafe.Pointer(&payload[0]), uintptr(len(payload)), info))
	runtime.KeepAlive(payload)
	runtime.KeepAlive(info)
	return st
}

// DestroyConnection implements Engine.
func (e *NativeEngine) DestroyConnection(h ConnectionHandle) Status {
	return Status(nativeDestroyConnection(uint32(h)))
}

// Shutdown implements Engine. The SDK cannot be bootstrapped again in this
// process afterwards.
func (e *NativeEngine) Shutdown() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.live {
		return StatusInvalidState
	}
	st := Status(nativeFini())
	e.live = false
	nativeSink.Store(nil)
	return st
}

func nativeDataType(c VideoCodec) int32 {
	switch c {
	case VideoCodecJPEG:
		return nativeDataTypeGenericJPEG
	case VideoCodecH264:
		return nativeDataTypeH264
	case VideoCodecH265:
		return nativeDataTypeH265
	default:
		return nativeDataTypeGeneric
	}
}

func nativeStreamType(t StreamTier) int32 {
	if t == StreamTierLow {
		return nativeStreamLow
	}
	return nativeStreamHigh
}

func nativeFrameType(k FrameKind) int32 {
	switch k {
	case FrameKindKey:
		return nativeFrameKey
	case FrameKindDelta:
		return nativeFrameDelta
	default:
		return nativeFrameAutoDetect
	}
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
