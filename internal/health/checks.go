package health

import (
	"context"
	"errors"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// Initializer is a component with an idempotent Initialize, such as the
// recognition session.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// VoiceSource reports the voice chosen for spoken feedback.
type VoiceSource interface {
	Voice() (types.VoiceProfile, bool)
}

// Pinger is a dependency that can be checked for connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Initialized returns a [Checker] that passes once c initializes.
func Initialized(name string, c Initializer) Checker {
	return Checker{Name: name, Check: c.Initialize}
}

// VoiceSelected returns a [Checker] that fails until a synthesis voice has
// been selected.
func VoiceSelected(v VoiceSource) Checker {
	return Checker{
		Name: "voice",
		Check: func(context.Context) error {
			if _, ok := v.Voice(); !ok {
				return errors.New("no synthesis voice selected")
			}
			return nil
		},
	}
}

// Ping returns a [Checker] that pings p.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}
