package session

import "errors"

// Failure taxonomy. Each terminal failure maps to a process exit code.
var (
	// ErrAdmissionTimeout: the bot was never admitted from the waiting room.
	ErrAdmissionTimeout = errors.New("not admitted before waiting room timeout")
	// ErrEmptyMeetingTimeout: nobody ever joined the meeting.
	ErrEmptyMeetingTimeout = errors.New("nobody joined before empty meeting timeout")
	// ErrNoAudioCaptured: recording stopped with zero chunks, or no supported
	// encoding was available.
	ErrNoAudioCaptured = errors.New("no audio captured")
	// ErrExportUnavailable: the capture context could not deliver the
	// recording across the boundary.
	ErrExportUnavailable = errors.New("recording unavailable")
	// ErrInterrupted: an external interrupt forced shutdown.
	ErrInterrupted = errors.New("interrupted")
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitError        = 1
	ExitEmptyMeeting = 2
	ExitAdmission    = 3
	ExitInterrupted  = 130
)

// ExitCode maps an error returned by Controller.Run to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrEmptyMeetingTimeout):
		return ExitEmptyMeeting
	case errors.Is(err, ErrAdmissionTimeout):
		return ExitAdmission
	case errors.Is(err, ErrInterrupted):
		return ExitInterrupted
	default:
		return ExitError
	}
}
