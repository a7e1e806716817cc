package broker

import "github.com/amoylab/pigeon/internal/common/config"

func metricsConfig() config.MetricsConfig {
	return config.MetricsConfig{Enabled: true, Namespace: "pigeon"}
}
