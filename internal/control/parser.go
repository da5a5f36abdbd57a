package control

import "encoding/json"

// MaxMessageSize is the largest JSON-Lines message this channel accepts.
const MaxMessageSize = 1_048_576

// ParseVMMessage parses a single JSON-Lines line as a VM-to-host message.
// Oversized lines are rejected before deserialization is attempted; valid
// JSON with an unrecognized "type" returns UnknownMessageTypeError rather
// than MalformedJsonError.
func ParseVMMessage(line string) (VmMessage, error) {
	if len(line) > MaxMessageSize {
		return VmMessage{}, &OversizedMessageError{MaxSize: MaxMessageSize, ActualSize: len(line)}
	}

	var msg VmMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return VmMessage{}, classifyParseError(line, err)
	}

	switch msg.Type {
	case TypeStepStarted, TypeOutput, TypeStepCompleted:
		return msg, nil
	default:
		return VmMessage{}, &UnknownMessageTypeError{Line: truncateForDisplay(line)}
	}
}

// ParseHostMessage parses a single JSON-Lines line as a host-to-VM message.
func ParseHostMessage(line string) (HostMessage, error) {
	if len(line) > MaxMessageSize {
		return HostMessage{}, &OversizedMessageError{MaxSize: MaxMessageSize, ActualSize: len(line)}
	}

	var msg HostMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return HostMessage{}, classifyParseError(line, err)
	}

	switch msg.Type {
	case TypeExec, TypeCancel, TypeRollbackNotify:
		return msg, nil
	default:
		return HostMessage{}, &UnknownMessageTypeError{Line: truncateForDisplay(line)}
	}
}

// classifyParseError distinguishes a genuinely malformed line from one that
// is valid JSON carrying an unrecognized "type".
func classifyParseError(line string, source error) error {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &generic); err == nil {
		if _, ok := generic["type"]; ok {
			return &UnknownMessageTypeError{Line: truncateForDisplay(line)}
		}
	}
	return &MalformedJsonError{Source: source}
}

const maxDisplayLen = 200

// truncateForDisplay bounds a line before it's embedded in an error
// message, so a multi-megabyte line can't bloat error output.
func truncateForDisplay(line string) string {
	if len(line) <= maxDisplayLen {
		return line
	}
	return line[:maxDisplayLen] + "..."
}
