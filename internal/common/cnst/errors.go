package cnst

import "errors"

var (
	// ErrUnsupportedStoreType is returned for an unknown session store type
	ErrUnsupportedStoreType = errors.New("unsupported session store type")
	// ErrUnsupportedIdentity is returned for an unknown identity policy
	ErrUnsupportedIdentity = errors.New("unsupported identity policy")
	// ErrInvalidIDBits is returned when session.id_bits is not 16, 32 or 64
	ErrInvalidIDBits = errors.New("session id bits must be 16, 32 or 64")
	// ErrMissingCookieSecret is returned when cookie identity has no signing secret
	ErrMissingCookieSecret = errors.New("cookie identity requires a secret")
	// ErrInvalidKeepAliveText is returned when the keep-alive text spans lines
	ErrInvalidKeepAliveText = errors.New("keep-alive text must not contain line breaks")
)
