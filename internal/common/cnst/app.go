package cnst

const (
	// AppName is the name of the application
	AppName = "pigeon"
	// CommandName is the name of the root command
	CommandName = "pigeon"
)

const (
	// PigeonYaml is the default configuration file name
	PigeonYaml = "pigeon.yaml"
)

const (
	RedisClusterTypeSentinel = "sentinel"
	RedisClusterTypeCluster  = "cluster"
	RedisClusterTypeSingle   = "single"
)
