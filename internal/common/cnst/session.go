package cnst

// SessionStoreType selects the session registry implementation
type SessionStoreType string

const (
	SessionStoreMemory SessionStoreType = "memory"
	SessionStoreRedis  SessionStoreType = "redis"
)

func (t SessionStoreType) String() string {
	return string(t)
}

// IdentityPolicy decides how a client presents its session id
type IdentityPolicy string

const (
	// IdentityPath means the id is returned to the client and echoed in the URL
	IdentityPath IdentityPolicy = "path"
	// IdentityCookie means the id is kept inside a signed cookie
	IdentityCookie IdentityPolicy = "cookie"
)

func (p IdentityPolicy) String() string {
	return string(p)
}

// Supported session id widths in bits
const (
	IDBits16 = 16
	IDBits32 = 32
	IDBits64 = 64
)

const (
	// EventMessage is the SSE event name used for delivered messages
	EventMessage = "message"
	// DefaultKeepAliveText is the comment text of keep-alive frames
	DefaultKeepAliveText = "keep-alive-text"
)
