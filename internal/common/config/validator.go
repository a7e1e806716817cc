package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/amoylab/pigeon/internal/common/cnst"
)

// Location points at the configuration key an error refers to
type Location struct {
	Key string
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message   string
	Locations []Location
	Err       error
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	sb.WriteString("\n\n")
	for _, loc := range e.Locations {
		sb.WriteString("--> ")
		sb.WriteString(loc.Key)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks the configuration after defaults have been applied
func (c *PigeonConfig) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, &ValidationError{
			Message:   fmt.Sprintf("port %d is out of range", c.Port),
			Locations: []Location{{Key: "port"}},
		})
	}

	switch cnst.SessionStoreType(c.Session.Type) {
	case cnst.SessionStoreMemory:
	case cnst.SessionStoreRedis:
		if c.Session.Redis.Addr == "" {
			errs = append(errs, &ValidationError{
				Message:   "redis session store requires an address",
				Locations: []Location{{Key: "session.redis.addr"}},
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Message:   fmt.Sprintf("session store type %q is not supported", c.Session.Type),
			Locations: []Location{{Key: "session.type"}},
			Err:       cnst.ErrUnsupportedStoreType,
		})
	}

	switch c.Session.IDBits {
	case cnst.IDBits16, cnst.IDBits32, cnst.IDBits64:
	default:
		errs = append(errs, &ValidationError{
			Message:   fmt.Sprintf("session id bits %d is not supported", c.Session.IDBits),
			Locations: []Location{{Key: "session.id_bits"}},
			Err:       cnst.ErrInvalidIDBits,
		})
	}

	switch cnst.IdentityPolicy(c.Session.Identity) {
	case cnst.IdentityPath:
	case cnst.IdentityCookie:
		if c.Session.Cookie.Secret == "" {
			errs = append(errs, &ValidationError{
				Message:   "cookie identity requires a signing secret",
				Locations: []Location{{Key: "session.cookie.secret"}},
				Err:       cnst.ErrMissingCookieSecret,
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Message:   fmt.Sprintf("identity policy %q is not supported", c.Session.Identity),
			Locations: []Location{{Key: "session.identity"}},
			Err:       cnst.ErrUnsupportedIdentity,
		})
	}

	if strings.ContainsAny(c.Delivery.KeepAliveText, "\r\n") {
		errs = append(errs, &ValidationError{
			Message:   "keep-alive text must be a single line",
			Locations: []Location{{Key: "delivery.keep_alive_text"}},
			Err:       cnst.ErrInvalidKeepAliveText,
		})
	}

	if c.Tracing.SamplerRate < 0 || c.Tracing.SamplerRate > 1 {
		errs = append(errs, &ValidationError{
			Message:   fmt.Sprintf("sampler rate %v must be within [0, 1]", c.Tracing.SamplerRate),
			Locations: []Location{{Key: "tracing.sampler_rate"}},
		})
	}

	return errors.Join(errs...)
}
