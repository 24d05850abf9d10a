// Package serverenv defines the latent environment shared by the
// flight-blender process: the wired collaborators every HTTP handler and
// background poller needs, assembled once at startup and shared through a
// *ServerEnv pointer. Adapted from the teacher's ServerEnv/Option pattern: the
// secret-manager/KMS/blobstore slots are replaced by this service's own
// domain collaborators (KV store, authority broker, JWKS cache,
// federation coordinator).
package serverenv

import (
	"net/http"
	"os"

	"github.com/interuss/flight-blender/internal/authgate"
	"github.com/interuss/flight-blender/internal/authority"
	"github.com/interuss/flight-blender/internal/federation"
	"github.com/interuss/flight-blender/internal/kv"
	"github.com/interuss/flight-blender/internal/spatial"
)

const (
	portEnvVar  = "PORT"
	defaultPort = "8080"
)

// ServerEnv is the set of collaborators wired once at process startup and
// passed to internal/httpapi's router.
type ServerEnv struct {
	Port       string
	Store      kv.Store
	Broker     *authority.Broker
	Gate       *authgate.Gate
	Federation *federation.Coordinator
	Flights    *spatial.Index
	HTTPClient *http.Client
}

// Option modifies a ServerEnv during New.
type Option func(*ServerEnv) *ServerEnv

// New creates a ServerEnv with the requested options applied in order.
func New(opts ...Option) *ServerEnv {
	env := &ServerEnv{Port: defaultPort, Flights: spatial.New(), HTTPClient: http.DefaultClient}
	if override := os.Getenv(portEnvVar); override != "" {
		env.Port = override
	}
	for _, f := range opts {
		env = f(env)
	}
	return env
}

func WithPort(port string) Option {
	return func(e *ServerEnv) *ServerEnv {
		if port != "" {
			e.Port = port
		}
		return e
	}
}

func WithStore(store kv.Store) Option {
	return func(e *ServerEnv) *ServerEnv { e.Store = store; return e }
}

func WithBroker(broker *authority.Broker) Option {
	return func(e *ServerEnv) *ServerEnv { e.Broker = broker; return e }
}

func WithGate(gate *authgate.Gate) Option {
	return func(e *ServerEnv) *ServerEnv { e.Gate = gate; return e }
}

func WithFederation(coord *federation.Coordinator) Option {
	return func(e *ServerEnv) *ServerEnv { e.Federation = coord; return e }
}

func WithHTTPClient(client *http.Client) Option {
	return func(e *ServerEnv) *ServerEnv {
		if client != nil {
			e.HTTPClient = client
		}
		return e
	}
}
