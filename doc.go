// Package rtsa bridges a live video producer to a real-time channel
// engine such as the Agora RTSA SDK.
//
// Key pieces include:
//   - Runtime: process-wide engine bootstrap and shutdown
//   - Session: one connection's lifecycle (join, reconnect, leave, destroy)
//   - Dispatcher: routes engine callbacks to sessions and application handlers
//   - Send/SubmitFrame: keyframe classification and frame submission
//   - Engines: NativeEngine (libagora-rtc-sdk via purego) and WebRTCEngine (pion)
//   - RTMPIngest: accepts an RTMP publisher and feeds a session
//
// # Architecture
//
//	Producer (encoder, RTMP, Annex-B reader) -> Session.SubmitFrame -> Engine.SendVideoFrame
//	Engine callbacks -> Dispatcher -> Session state -> Handler notifications
//
// Every state change goes through one transition table. Engine callbacks
// and application calls feed the same table, so an event that arrives
// after a Leave (a late RejoinSuccess, for example) is dropped instead of
// reviving the session. Frames are only sent in the Joined state; in any
// other state Send returns ErrNotJoined and the frame should be dropped.
//
// # Native Library
//
// NativeEngine loads libagora-rtc-sdk at runtime with purego, so no cgo
// toolchain is needed. Set RTSA_SDK_LIB to the library file, or
// RTSA_SDK_LIB_PATH to the directory containing it. The SDK allows one
// bootstrap per process.
//
// # Configuration
//
// LoadConfig reads RTSA_* environment variables (see Config).
package rtsa
