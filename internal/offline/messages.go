package offline

import (
	"context"
	"errors"
	"fmt"
)

// Message types exchanged with pages
const (
	MsgSkipWaiting     = "SKIP_WAITING"
	MsgGetVersion      = "GET_VERSION"
	MsgUpdateAvailable = "UPDATE_AVAILABLE"
)

// Message is an inbound message from a page
type Message struct {
	Type string `json:"type"`
}

// UpdateMessage is broadcast when a new deployment is detected
type UpdateMessage struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// VersionReply answers GET_VERSION
type VersionReply struct {
	Version string `json:"version"`
}

// HandleMessage dispatches a page message. GET_VERSION is answered on reply
// before HandleMessage returns and never touches the network.
func (m *Manager) HandleMessage(ctx context.Context, msg Message, reply Port) error {
	switch msg.Type {
	case MsgSkipWaiting:
		return m.SkipWaiting(ctx)
	case MsgGetVersion:
		if reply == nil {
			return errors.New("offline: GET_VERSION needs a reply port")
		}
		return reply.PostMessage(VersionReply{Version: BaseVersion(m.gen.Version)})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}
