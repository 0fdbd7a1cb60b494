package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeRegistered       Type = "auth.registered"
	TypeLoginSucceeded   Type = "auth.login.succeeded"
	TypeLoginFailed      Type = "auth.login.failed"
	TypeRefreshSucceeded Type = "auth.refresh.succeeded"
	TypeRefreshRejected  Type = "auth.refresh.rejected"
	TypeLogout           Type = "auth.logout"
	TypeDeleted          Type = "auth.deleted"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Username  string `json:"username,omitempty"`
	Reason    string `json:"reason,omitempty"`
	IP        string `json:"ip,omitempty"`
	Timestamp string `json:"timestamp"`
}

type clientIPKey struct{}

// WithClientIP attaches the caller address so events published further down
// the call chain can carry it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func New(t Type, username string, reason string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Username:  username,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Failed reports whether the event records a rejected attempt.
func (e Event) Failed() bool {
	return e.Type == TypeLoginFailed || e.Type == TypeRefreshRejected
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}

// FromContext builds an event stamped with the client address stored in ctx.
func FromContext(ctx context.Context, t Type, username string, reason string) Event {
	e := New(t, username, reason)
	e.IP = ClientIP(ctx)
	return e
}
